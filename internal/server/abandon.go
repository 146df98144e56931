package server

import (
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// handleAbandon processes an AbandonRequest (RFC 4511 Section 4.11). It
// has no response. Abandoning an unknown or finished operation is a silent
// no-op, as is abandoning a bind.
//
// An abandoned operation leaves the client's table at once so its message
// id may be reused. The upstream link stays until a late final response
// arrives or the abandon grace period ends.
func (c *ClientConn) handleAbandon(msg *ldap.LDAPMessage) {
	target, err := ldap.ParseAbandonRequest(msg.Operation.Data)
	if err != nil {
		c.logger.Debug("ignoring malformed abandon request", "message_id", msg.MessageID, "error", err.Error())
		return
	}

	op := c.ops[target]
	if op == nil || op.final() || op.isBind() {
		return
	}
	c.abandonOp(op)
}

// abandonOutstanding abandons every unfinished operation of the client
// except keep. A new bind starts from a clean slate.
func (c *ClientConn) abandonOutstanding(keep *Operation) {
	for _, op := range c.ops {
		if op == keep || op.final() || op.isBind() {
			continue
		}
		c.abandonOp(op)
	}
}

// abandonOp drops op from the client table and asks its upstream to
// abandon it.
func (c *ClientConn) abandonOp(op *Operation) {
	c.logger.Debug("operation abandoned",
		"message_id", op.msgID,
		"operation", op.opType.String(),
		"duration_ms", c.proxy.now().Sub(op.started).Milliseconds())

	wasAwaiting := op.state == OpAwaiting
	op.state = OpAbandoned
	c.remove(op)
	c.proxy.metrics.OperationAbandoned()

	if wasAwaiting && op.upstream != nil {
		up, id := op.upstream, op.id
		up.post(func() { up.abandon(id) })
	}
}

// abandon marks the upstream side of operation opID abandoned and sends an
// AbandonRequest for it. Runs on the upstream task loop.
func (u *UpstreamConn) abandon(opID uint64) {
	msgID, ok := u.byOp[opID]
	if !ok {
		return
	}
	delete(u.byOp, opID)

	l := u.links[msgID]
	if l == nil || l.abandoned {
		return
	}
	l.abandoned = true
	l.abandonedAt = u.proxy.now()

	if u.closing() {
		return
	}
	if err := u.send(ldap.NewAbandonMessage(u.nextMessageID(), msgID)); err != nil {
		u.logger.Warn("failed to encode abandon", "upstream_message_id", msgID, "error", err.Error())
	}
}
