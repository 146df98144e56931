package server

import (
	"errors"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// handleBind starts a bind. Outstanding operations of the client are
// abandoned and the previous identity is dropped first; the outcome
// decides the new one.
//
// Anonymous binds are answered by the proxy. Other binds are carried by the
// strategy of the backend they land on: pinning forwards the bind on an
// upstream connection reserved for this client, vc translates it into a
// Verify Credentials request on a shared connection.
func (c *ClientConn) handleBind(op *Operation, msg *ldap.LDAPMessage) {
	c.abandonOutstanding(op)

	req, err := ldap.ParseBindRequest(msg.Operation.Data)
	if err != nil {
		code := ldap.ResultProtocolError
		if errors.Is(err, ldap.ErrUnknownAuthMethod) {
			code = ldap.ResultAuthMethodNotSupported
		}
		c.logger.Debug("invalid bind request", "message_id", msg.MessageID, "error", err.Error())
		c.finishBind(op, code, "invalid bind request")
		return
	}
	op.bind = req

	continuing := req.AuthMethod == ldap.AuthMethodSASL && c.saslCookie != nil
	if !continuing {
		c.saslCookie = nil
	}
	c.identity = ""
	c.boundVia = ""

	if req.IsAnonymous() {
		if c.pinned != nil {
			c.releasePin()
		}
		op.kind = opProxied
		c.finishBind(op, ldap.ResultSuccess, "")
		return
	}

	c.state = bindInFlight
	c.bindOp = op

	entry, err := c.bindTarget(continuing)
	if err != nil {
		c.finishBind(op, ldap.ResultUnavailable, diagFor(err))
		return
	}
	b := entry.Backend()

	if b.Strategy() == config.BindVerifyCredentials {
		if c.pinned != nil {
			// A client leaving a pinned backend gives the connection back.
			c.releasePin()
		}
		vc, err := ldap.NewVerifyCredentialsRequest(req, c.saslCookie).Message(op.msgID)
		if err != nil {
			b.Release(entry)
			c.finishBind(op, ldap.ResultOperationsError, "cannot encode verify credentials request")
			return
		}
		op.kind = opVerify
		c.dispatch(op, entry, vc)
		return
	}

	if c.pinned != entry {
		if !b.Pin(entry) {
			// The shared connection carries other operations; only an
			// idle one may change identity.
			b.Release(entry)
			entry, err = c.proxy.registry.SelectExclusive(backend.StrategyFilter(config.BindPinning))
			if err != nil {
				c.finishBind(op, ldap.ResultUnavailable, diagFor(err))
				return
			}
		}
		c.pinned = entry
	}
	op.kind = opPinnedBind
	c.dispatch(op, entry, msg)
}

// bindTarget returns a reserved entry to carry a bind. A pinned client
// keeps its connection; a multi-step SASL exchange over VC stays on VC
// backends.
func (c *ClientConn) bindTarget(continuing bool) (*backend.Entry, error) {
	if c.pinned != nil {
		if c.pinned.Backend().Reserve(c.pinned) {
			return c.pinned, nil
		}
		if c.pinned.State() != backend.StateDown {
			return nil, backend.ErrNoConnection
		}
		c.pinned = nil
	}

	var filter backend.Filter
	if continuing {
		filter = backend.StrategyFilter(config.BindVerifyCredentials)
	}
	return c.proxy.registry.Select(filter)
}

// completePinnedBind relays the upstream BindResponse and moves the client
// to its new state.
func (c *ClientConn) completePinnedBind(op *Operation, msg *ldap.LDAPMessage) {
	resp, err := ldap.ParseBindResponse(msg.Operation.Data)
	if err != nil {
		c.logger.Warn("invalid bind response from upstream", "message_id", op.msgID, "error", err.Error())
		c.finishBind(op, ldap.ResultOperationsError, "invalid bind response from upstream")
		return
	}
	if err := c.send(msg); err != nil {
		c.logger.Error("failed to encode response", "message_id", op.msgID, "error", err.Error())
	}

	switch resp.ResultCode {
	case ldap.ResultSuccess:
		c.state = bindBound
		c.identity = op.bind.Name
		c.boundVia = config.BindPinning
	case ldap.ResultSASLBindInProgress:
		// The exchange continues on the pinned connection.
		c.state = bindAnonymous
	default:
		c.state = bindAnonymous
		c.releasePin()
	}
	op.state = OpCompleted
	c.endBind(op, config.BindPinning, resp.ResultCode)
}

// completeVerify turns the Verify Credentials response into the client's
// BindResponse.
func (c *ClientConn) completeVerify(op *Operation, msg *ldap.LDAPMessage) {
	ext, err := ldap.ParseExtendedResponse(msg.Operation.Data)
	if err != nil {
		c.logger.Warn("invalid verify credentials response", "message_id", op.msgID, "error", err.Error())
		c.finishBind(op, ldap.ResultOperationsError, "invalid verify credentials response")
		return
	}

	result := ldap.BindResponse{LDAPResult: ldap.LDAPResult{
		ResultCode:        ext.ResultCode,
		DiagnosticMessage: ext.DiagnosticMessage,
	}}
	var cookie []byte
	if ext.ResultCode == ldap.ResultSuccess {
		vr, err := ldap.ParseVerifyCredentialsResponse(ext.Value)
		if err != nil {
			c.logger.Warn("invalid verify credentials response", "message_id", op.msgID, "error", err.Error())
			c.finishBind(op, ldap.ResultOperationsError, "invalid verify credentials response")
			return
		}
		result.ResultCode = vr.ResultCode
		result.DiagnosticMessage = vr.DiagnosticMessage
		result.ServerSASLCreds = vr.ServerSASLCreds
		cookie = vr.Cookie
	}

	resp, err := ldap.NewBindResponseMessage(op.msgID, &result)
	if err != nil {
		c.finishBind(op, ldap.ResultOperationsError, "cannot encode bind response")
		return
	}
	_ = c.send(resp)

	switch result.ResultCode {
	case ldap.ResultSuccess:
		c.state = bindBound
		c.identity = op.bind.Name
		c.boundVia = config.BindVerifyCredentials
		c.saslCookie = nil
	case ldap.ResultSASLBindInProgress:
		c.state = bindAnonymous
		c.saslCookie = cookie
	default:
		c.state = bindAnonymous
		c.saslCookie = nil
	}
	op.state = OpCompleted
	c.endBind(op, config.BindVerifyCredentials, result.ResultCode)
}

// finishBind answers a bind from the proxy. Any failure leaves the client
// anonymous.
func (c *ClientConn) finishBind(op *Operation, code ldap.ResultCode, diag string) {
	strategy := "proxy"
	switch op.kind {
	case opPinnedBind:
		strategy = config.BindPinning
	case opVerify:
		strategy = config.BindVerifyCredentials
	}

	if code == ldap.ResultSuccess {
		op.state = OpCompleted
	} else {
		op.state = OpFailed
		if op.kind == opPinnedBind {
			c.releasePin()
		}
		c.identity = ""
		c.boundVia = ""
		c.saslCookie = nil
	}
	c.state = bindAnonymous

	resp, err := ldap.NewBindResponseMessage(op.msgID, &ldap.BindResponse{
		LDAPResult: ldap.LDAPResult{ResultCode: code, DiagnosticMessage: diag},
	})
	if err == nil {
		_ = c.send(resp)
	}
	c.endBind(op, strategy, code)
}

// endBind records the bind outcome and replays requests queued behind it.
func (c *ClientConn) endBind(op *Operation, strategy string, code ldap.ResultCode) {
	if c.state == bindInFlight {
		c.state = bindAnonymous
	}
	if c.bindOp == op {
		c.bindOp = nil
	}
	c.remove(op)
	c.proxy.metrics.BindCompleted(strategy, code.String())
	c.logger.Debug("bind completed",
		"message_id", op.msgID,
		"strategy", strategy,
		"result", code.String(),
		"dn", op.bindDN(),
		"duration_ms", c.proxy.now().Sub(op.started).Milliseconds())
	c.drainQueue()
}

// drainQueue handles requests held back by a bind, in arrival order, until
// the queue is empty or another bind goes in flight.
func (c *ClientConn) drainQueue() {
	for len(c.queued) > 0 && c.state != bindInFlight && !c.closing() {
		msg := c.queued[0]
		c.queued = c.queued[1:]
		c.handle(msg)
	}
	if len(c.queued) == 0 {
		c.queued = nil
	}
}

// resetIdentity returns the client to anonymous.
func (c *ClientConn) resetIdentity() {
	c.state = bindAnonymous
	c.identity = ""
	c.boundVia = ""
	c.saslCookie = nil
}

// releasePin gives the pinned connection back. The upstream rebinds as the
// service identity before it rejoins the shared pool.
func (c *ClientConn) releasePin() {
	e := c.pinned
	if e == nil {
		return
	}
	c.pinned = nil
	up, ok := e.Conn().(*UpstreamConn)
	if !ok {
		return
	}
	up.post(up.restoreIdentity)
}

func (op *Operation) bindDN() string {
	if op.bind == nil {
		return ""
	}
	return op.bind.Name
}
