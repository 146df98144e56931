package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
	"github.com/KilimcininKorOglu/lload/internal/logging"
	"github.com/KilimcininKorOglu/lload/internal/metrics"
)

// Diagnostic messages sent to clients.
const (
	diagNoConnection   = "no connections available"
	diagNoBackend      = "no backend available"
	diagUpstreamLost   = "upstream connection lost"
	diagTimeLimit      = "time limit exceeded"
	diagTooManyPending = "too many outstanding operations"
	diagIdle           = "idle timeout"
	diagShutdown       = "server shutting down"
)

// bindState is the authentication position of a client connection.
type bindState int

const (
	bindAnonymous bindState = iota
	bindInFlight
	bindBound
)

// ClientConn is a connection accepted from an LDAP client.
//
// Everything below the embedded conn is owned by the task loop.
type ClientConn struct {
	*conn

	// ops is the operation table keyed by client message id
	ops map[int]*Operation
	// state is the bind state
	state bindState
	// identity is the DN the client is bound as
	identity string
	// boundVia is the bind strategy that authenticated identity
	boundVia string
	// pinned is the upstream entry reserved for this client (pinning)
	pinned *backend.Entry
	// bindOp is the bind currently in flight
	bindOp *Operation
	// saslCookie continues a multi-step SASL bind carried over VC
	saslCookie []byte
	// queued holds requests that arrived while a bind was in flight
	queued []*ldap.LDAPMessage
	// idleSince is when the operation table last became empty
	idleSince time.Time
	// upgradeRequested is set by a successful StartTLS
	upgradeRequested bool
	// handshaking suspends idle checks during a TLS upgrade
	handshaking bool
	// blockers collects congested upstreams during a read cycle
	blockers []*conn
}

func newClientConn(p *Proxy, nc net.Conn) *ClientConn {
	id := logging.GenerateRequestID()
	logger := p.logger.WithRequestID(id).WithFields("client", nc.RemoteAddr().String())
	c := &ClientConn{
		conn:      newConn(p, nc, id, logger),
		ops:       make(map[int]*Operation),
		idleSince: p.now(),
	}
	return c
}

// serve starts the connection goroutines. With ldaps set the TLS
// handshake completes before any PDU is read.
func (c *ClientConn) serve(ldaps bool) {
	c.proxy.metrics.ConnectionOpened(metrics.KindClient)
	c.logger.Debug("client connected", "tls", ldaps)

	go c.run(c.teardown)
	go c.writeLoop()
	go func() {
		if ldaps {
			if err := c.handshake(); err != nil {
				c.logger.Warn("TLS handshake failed", "error", err.Error())
				c.closeWith(err, false)
				return
			}
		}
		c.readLoop(c.handleBatch, c.proxy.settings().maxPDUSize, c.upgrade)
	}()
}

// Close closes the connection without a notice.
func (c *ClientConn) Close() {
	c.closeWith(ErrConnectionClosed, false)
}

func (c *ClientConn) handleBatch(msgs []*ldap.LDAPMessage) cycleResult {
	for _, msg := range msgs {
		if c.closing() {
			break
		}
		if c.upgradeRequested {
			c.protocolViolation("data received after StartTLS request")
			break
		}
		c.handle(msg)
	}

	res := cycleResult{blockers: c.blockers, upgrade: c.upgradeRequested && !c.closing()}
	c.blockers = nil
	if res.upgrade {
		c.handshaking = true
	}
	return res
}

// State returns the connection state, asking the task loop whether a bind
// is in flight.
func (c *ClientConn) State() ConnState {
	st := make(chan ConnState, 1)
	if !c.post(func() {
		if c.state == bindInFlight && !c.closing() {
			st <- ConnBinding
			return
		}
		st <- c.lifecycle()
	}) {
		return ConnClosed
	}
	select {
	case s := <-st:
		return s
	case <-c.loopDone:
		return ConnClosed
	}
}

// handle dispatches one client PDU.
func (c *ClientConn) handle(msg *ldap.LDAPMessage) {
	t := msg.OperationType()

	if t == ldap.ApplicationUnbindRequest {
		c.logger.Debug("unbind received", "message_id", msg.MessageID)
		c.closeWith(nil, true)
		return
	}

	if c.state == bindInFlight {
		if len(c.queued) >= c.proxy.settings().maxBindQueue {
			c.protocolViolation("too many requests queued behind bind")
			return
		}
		c.queued = append(c.queued, msg)
		return
	}

	if msg.MessageID == 0 {
		c.protocolViolation("message id 0 is reserved")
		return
	}
	if !t.IsRequest() {
		c.protocolViolation(fmt.Sprintf("unexpected %s from client", t))
		return
	}
	if t == ldap.ApplicationAbandonRequest {
		c.handleAbandon(msg)
		return
	}
	if _, live := c.ops[msg.MessageID]; live {
		c.protocolViolation(fmt.Sprintf("duplicate message id %d", msg.MessageID))
		return
	}
	if limit := c.proxy.settings().maxPendingClientOps; limit > 0 && len(c.ops) >= limit {
		c.proxy.metrics.OperationRejected("busy")
		_ = c.send(ldap.NewResultMessage(msg.MessageID, t, ldap.ResultBusy, diagTooManyPending))
		return
	}

	op := c.newOp(msg)
	switch t {
	case ldap.ApplicationBindRequest:
		c.handleBind(op, msg)
	case ldap.ApplicationExtendedRequest:
		c.handleExtended(op, msg)
	default:
		c.forward(op, msg)
	}
}

func (c *ClientConn) newOp(msg *ldap.LDAPMessage) *Operation {
	op := &Operation{
		id:      c.proxy.nextOpID(),
		msgID:   msg.MessageID,
		opType:  msg.OperationType(),
		state:   OpReceived,
		started: c.proxy.now(),
	}
	c.ops[op.msgID] = op
	return op
}

// route picks the upstream entry for a non-bind operation and reserves a
// slot on it.
func (c *ClientConn) route() (*backend.Entry, error) {
	if c.pinned != nil {
		b := c.pinned.Backend()
		if b.Reserve(c.pinned) {
			return c.pinned, nil
		}
		if c.pinned.State() == backend.StateDown {
			c.logger.Info("pinned upstream connection lost", "backend", b.Name())
			c.pinned = nil
			c.resetIdentity()
			return nil, errPinnedLost
		}
		return nil, backend.ErrNoConnection
	}

	var filter backend.Filter
	if c.state == bindBound && c.boundVia == config.BindVerifyCredentials {
		filter = backend.StrategyFilter(config.BindVerifyCredentials)
	}
	return c.proxy.registry.Select(filter)
}

var errPinnedLost = errors.New("server: pinned upstream connection lost")

// diagFor maps routing errors to the diagnostic sent with unavailable.
func diagFor(err error) string {
	switch {
	case errors.Is(err, backend.ErrNoConnection):
		return diagNoConnection
	case errors.Is(err, errPinnedLost):
		return diagUpstreamLost
	default:
		return diagNoBackend
	}
}

// forward routes a request upstream.
func (c *ClientConn) forward(op *Operation, msg *ldap.LDAPMessage) {
	entry, err := c.route()
	if err != nil {
		c.failOp(op, ldap.ResultUnavailable, diagFor(err))
		return
	}

	out := msg
	if c.state == bindBound && c.boundVia == config.BindVerifyCredentials && entry.Backend().ProxyAuthz() {
		out = msg.WithMessageID(msg.MessageID)
		if err := out.AddControl(ldap.NewProxiedAuthzControl("dn:" + c.identity)); err != nil {
			entry.Backend().Release(entry)
			c.failOp(op, ldap.ResultProtocolError, "invalid controls")
			return
		}
	}
	c.dispatch(op, entry, out)
}

// dispatch hands msg to the upstream behind entry, which must already be
// reserved for op.
func (c *ClientConn) dispatch(op *Operation, entry *backend.Entry, msg *ldap.LDAPMessage) {
	up, ok := entry.Conn().(*UpstreamConn)
	if !ok {
		entry.Backend().Release(entry)
		c.failOp(op, ldap.ResultUnavailable, diagUpstreamLost)
		return
	}

	op.entry = entry
	op.upstream = up
	op.state = OpAwaiting
	req := &forwardRequest{opID: op.id, client: c, clientMsgID: op.msgID, msg: msg}
	if !up.post(func() { up.forward(req) }) {
		entry.Backend().Release(entry)
		c.failOp(op, ldap.ResultUnavailable, diagUpstreamLost)
		return
	}
	c.blockers = blockedOn(c.blockers, up.conn)
}

// deliver handles a response relayed by an upstream. The operation id
// guards against a late response resolving a newer operation that reused
// the client message id.
func (c *ClientConn) deliver(opID uint64, msg *ldap.LDAPMessage, final bool) {
	op := c.ops[msg.MessageID]
	if op == nil || op.id != opID || op.state != OpAwaiting {
		return
	}

	switch op.kind {
	case opPinnedBind:
		c.completePinnedBind(op, msg)
		return
	case opVerify:
		c.completeVerify(op, msg)
		return
	}

	if err := c.send(msg); err != nil {
		c.logger.Error("failed to encode response", "message_id", msg.MessageID, "error", err.Error())
	}
	if final {
		result := "unknown"
		if res, err := ldap.ParseLDAPResult(msg.Operation.Data); err == nil {
			result = res.ResultCode.String()
		}
		c.complete(op, result)
	}
}

// upstreamLost rejects an operation whose upstream connection closed.
func (c *ClientConn) upstreamLost(opID uint64, msgID int) {
	op := c.ops[msgID]
	if op == nil || op.id != opID || op.state != OpAwaiting {
		return
	}
	if op.kind == opPinnedBind && c.pinned == op.entry {
		c.pinned = nil
	}
	c.failOp(op, ldap.ResultUnavailable, diagUpstreamLost)
}

// complete removes a finished operation from the table.
func (c *ClientConn) complete(op *Operation, result string) {
	op.state = OpCompleted
	c.remove(op)
	elapsed := c.proxy.now().Sub(op.started)
	c.proxy.metrics.OperationCompleted(op.backendName(), op.opType.String(), result, elapsed)
	c.logger.Debug("operation completed",
		"message_id", op.msgID,
		"operation", op.opType.String(),
		"result", result,
		"duration_ms", elapsed.Milliseconds())
}

// failOp answers op with a proxy-generated result.
func (c *ClientConn) failOp(op *Operation, code ldap.ResultCode, diag string) {
	if op.isBind() {
		c.finishBind(op, code, diag)
		return
	}
	op.state = OpFailed
	c.remove(op)
	c.proxy.metrics.OperationRejected(code.String())
	c.logger.Debug("operation rejected",
		"message_id", op.msgID,
		"operation", op.opType.String(),
		"result", code.String(),
		"diagnostic", diag)
	if resp := ldap.NewResultMessage(op.msgID, op.opType, code, diag); resp != nil {
		_ = c.send(resp)
	}
}

func (c *ClientConn) remove(op *Operation) {
	if cur, ok := c.ops[op.msgID]; ok && cur == op {
		delete(c.ops, op.msgID)
	}
	if len(c.ops) == 0 {
		c.idleSince = c.proxy.now()
	}
}

// protocolViolation sends a Notice of Disconnection and closes.
func (c *ClientConn) protocolViolation(diag string) {
	c.logger.Warn("protocol violation", "reason", diag)
	c.proxy.metrics.OperationRejected("protocol_violation")
	_ = c.send(ldap.NewNoticeOfDisconnection(ldap.ResultProtocolError, diag))
	c.closeWith(fmt.Errorf("%w: %s", ErrProtocolViolation, diag), true)
}

// disconnect sends a Notice of Disconnection with code and closes.
func (c *ClientConn) disconnect(code ldap.ResultCode, diag string) {
	_ = c.send(ldap.NewNoticeOfDisconnection(code, diag))
	c.closeWith(fmt.Errorf("%w: %s", ErrConnectionClosed, diag), true)
}

// teardown runs on the task loop once the connection is closing.
func (c *ClientConn) teardown() {
	for _, op := range c.ops {
		if op.state == OpAwaiting && op.upstream != nil {
			up, id := op.upstream, op.id
			up.post(func() { up.abandon(id) })
		}
		op.state = OpAbandoned
	}
	c.ops = nil
	c.queued = nil
	c.bindOp = nil
	if c.pinned != nil {
		c.releasePin()
	}

	c.proxy.removeClient(c)
	c.proxy.metrics.ConnectionClosed(metrics.KindClient)

	err := c.err
	switch {
	case err == nil, errors.Is(err, io.EOF):
		c.logger.Debug("client disconnected", "duration_ms", time.Since(c.startTime).Milliseconds())
	default:
		c.logger.Info("client connection closed",
			"reason", err.Error(),
			"duration_ms", time.Since(c.startTime).Milliseconds())
	}
}

// sweep expires timed-out operations and idle connections.
func (c *ClientConn) sweep(now time.Time) {
	if c.closing() {
		return
	}
	s := c.proxy.settings()

	if s.operationTimeout > 0 {
		for _, op := range c.ops {
			if op.final() || now.Sub(op.started) < s.operationTimeout {
				continue
			}
			c.logger.Info("operation timed out",
				"message_id", op.msgID,
				"operation", op.opType.String(),
				"duration_ms", now.Sub(op.started).Milliseconds())
			if op.upstream != nil && op.state == OpAwaiting {
				up, id := op.upstream, op.id
				up.post(func() { up.abandon(id) })
			}
			c.failOp(op, ldap.ResultAdminLimitExceeded, diagTimeLimit)
		}
	}

	if s.idleTimeout > 0 && !c.handshaking && len(c.ops) == 0 && c.state != bindInFlight &&
		now.Sub(c.idleSince) >= s.idleTimeout {
		c.logger.Info("closing idle client", "idle_ms", now.Sub(c.idleSince).Milliseconds())
		c.disconnect(ldap.ResultUnavailable, diagIdle)
	}
}

// outstanding reports the number of operations in the table.
func (c *ClientConn) outstanding() int {
	return len(c.ops)
}
