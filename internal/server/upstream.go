package server

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
	"github.com/KilimcininKorOglu/lload/internal/logging"
	"github.com/KilimcininKorOglu/lload/internal/metrics"
)

// Upstream errors
var (
	// ErrNoticeOfDisconnection is the close reason when the upstream server
	// announced it is disconnecting
	ErrNoticeOfDisconnection = errors.New("server: upstream sent notice of disconnection")
	// ErrRestoreFailed is the close reason when rebinding a released pinned
	// connection as the service identity fails
	ErrRestoreFailed = errors.New("server: failed to restore upstream identity")
)

// maxMessageID is the largest LDAP message id.
const maxMessageID = 1<<31 - 1

// UpstreamConn is a connection to a backend directory server. It
// multiplexes operations from many clients, rewriting message ids in both
// directions.
//
// Everything below the embedded conn is owned by the task loop.
type UpstreamConn struct {
	*conn

	// backend and entry locate the connection in its pool
	backend *backend.Backend
	entry   *backend.Entry

	// links maps upstream message ids to the operations they carry
	links map[int]*link
	// byOp maps live operation ids to upstream message ids
	byOp map[uint64]int
	// lastMsgID is the last message id handed out
	lastMsgID int
	// closed is set once teardown ran
	closed bool
	// blockers collects congested clients during a read cycle
	blockers []*conn
}

func newUpstreamConn(p *Proxy, nc net.Conn, b *backend.Backend, e *backend.Entry, lastMsgID int) *UpstreamConn {
	id := logging.GenerateRequestID()
	logger := p.logger.WithRequestID(id).WithFields(
		"backend", b.Name(),
		"upstream", nc.RemoteAddr().String(),
		"entry", e.ID())
	return &UpstreamConn{
		conn:      newConn(p, nc, id, logger),
		backend:   b,
		entry:     e,
		links:     make(map[int]*link),
		byOp:      make(map[uint64]int),
		lastMsgID: lastMsgID,
	}
}

func (u *UpstreamConn) start() {
	u.proxy.metrics.ConnectionOpened(metrics.KindUpstream)
	u.logger.Debug("upstream connected", "tls", u.IsTLS())
	go u.run(u.teardown)
	go u.writeLoop()
	go u.readLoop(u.handleBatch, u.proxy.settings().maxUpstreamPDUSize, nil)
}

// Close closes the connection. Operations still linked to it are rejected
// to their clients. Closing does not count as a backend failure.
func (u *UpstreamConn) Close() {
	u.closeWith(nil, false)
}

// nextMessageID allocates a message id, wrapping within 1..2^31-1 and
// skipping ids still in use.
func (u *UpstreamConn) nextMessageID() int {
	for {
		u.lastMsgID++
		if u.lastMsgID > maxMessageID {
			u.lastMsgID = 1
		}
		if _, used := u.links[u.lastMsgID]; !used {
			return u.lastMsgID
		}
	}
}

// forward sends a client request upstream under a fresh message id.
func (u *UpstreamConn) forward(req *forwardRequest) {
	client := req.client
	if u.closed {
		client.post(func() { client.upstreamLost(req.opID, req.clientMsgID) })
		return
	}

	id := u.nextMessageID()
	if err := u.send(req.msg.WithMessageID(id)); err != nil {
		u.backend.Release(u.entry)
		u.logger.Error("failed to encode request", "message_id", req.clientMsgID, "error", err.Error())
		client.post(func() { client.upstreamLost(req.opID, req.clientMsgID) })
		return
	}
	u.links[id] = &link{
		opID:        req.opID,
		client:      client,
		clientMsgID: req.clientMsgID,
		reserved:    true,
	}
	u.byOp[req.opID] = id
}

func (u *UpstreamConn) handleBatch(msgs []*ldap.LDAPMessage) cycleResult {
	for _, msg := range msgs {
		if u.closing() {
			break
		}
		u.handleResponse(msg)
	}
	res := cycleResult{blockers: u.blockers}
	u.blockers = nil
	return res
}

// handleResponse routes one upstream PDU back to its client.
func (u *UpstreamConn) handleResponse(msg *ldap.LDAPMessage) {
	t := msg.OperationType()

	if msg.MessageID == 0 {
		if isNoticeOfDisconnection(msg) {
			u.logger.Warn("upstream sent notice of disconnection")
			u.closeWith(ErrNoticeOfDisconnection, false)
			return
		}
		u.logger.Debug("dropping unsolicited upstream message", "operation", t.String())
		return
	}
	if !t.IsResponse() {
		u.logger.Warn("protocol violation", "reason", fmt.Sprintf("unexpected %s from upstream", t))
		u.closeWith(fmt.Errorf("%w: unexpected %s from upstream", ErrProtocolViolation, t), false)
		return
	}

	l := u.links[msg.MessageID]
	if l == nil {
		u.logger.Debug("dropping response for unknown message id", "upstream_message_id", msg.MessageID)
		return
	}

	final := t.IsFinal()
	if final {
		delete(u.links, msg.MessageID)
		if id, ok := u.byOp[l.opID]; ok && id == msg.MessageID {
			delete(u.byOp, l.opID)
		}
		if l.reserved {
			u.backend.Release(u.entry)
		}
	}

	if l.internal != nil {
		if final {
			l.internal(msg)
		}
		return
	}
	if l.abandoned {
		return
	}

	client, opID, out := l.client, l.opID, msg.WithMessageID(l.clientMsgID)
	if client.post(func() { client.deliver(opID, out, final) }) {
		u.blockers = blockedOn(u.blockers, client.conn)
	}
}

func isNoticeOfDisconnection(msg *ldap.LDAPMessage) bool {
	if msg.OperationType() != ldap.ApplicationExtendedResponse {
		return false
	}
	resp, err := ldap.ParseExtendedResponse(msg.Operation.Data)
	return err == nil && resp.Name == ldap.OIDNoticeOfDisconnection
}

// restoreIdentity rebinds a released pinned connection as the service
// identity (anonymous when none is configured). The entry rejoins the
// shared pool only when the rebind succeeds.
func (u *UpstreamConn) restoreIdentity() {
	if u.closed || u.closing() {
		return
	}
	cfg := u.backend.Config()
	id := u.nextMessageID()
	msg, err := ldap.NewSimpleBind(cfg.BindDN, []byte(cfg.BindPassword)).Message(id)
	if err == nil {
		err = u.send(msg)
	}
	if err != nil {
		u.closeWith(fmt.Errorf("%w: %v", ErrRestoreFailed, err), false)
		return
	}

	u.links[id] = &link{internal: func(resp *ldap.LDAPMessage) {
		r, err := ldap.ParseBindResponse(resp.Operation.Data)
		if err != nil {
			u.logger.Warn("identity restore failed", "error", err.Error())
			u.closeWith(fmt.Errorf("%w: %v", ErrRestoreFailed, err), false)
			return
		}
		if r.ResultCode != ldap.ResultSuccess {
			u.logger.Warn("identity restore failed", "result", r.ResultCode.String(), "diagnostic", r.DiagnosticMessage)
			u.closeWith(fmt.Errorf("%w: %s", ErrRestoreFailed, r.ResultCode), false)
			return
		}
		u.logger.Debug("upstream identity restored")
		u.backend.Unpin(u.entry)
	}}
}

// sweep reclaims abandoned links whose grace period has passed.
func (u *UpstreamConn) sweep(now time.Time) {
	if u.closed {
		return
	}
	grace := u.proxy.settings().abandonGrace
	for id, l := range u.links {
		if !l.abandoned || now.Sub(l.abandonedAt) < grace {
			continue
		}
		delete(u.links, id)
		if l.reserved {
			u.backend.Release(u.entry)
		}
	}
}

// teardown rejects every live operation to its client and reports the
// loss to the pool once.
func (u *UpstreamConn) teardown() {
	u.closed = true
	for _, l := range u.links {
		if l.client == nil || l.abandoned {
			continue
		}
		client, opID, msgID := l.client, l.opID, l.clientMsgID
		client.post(func() { client.upstreamLost(opID, msgID) })
	}
	lost := len(u.links)
	u.links = nil
	u.byOp = nil

	err := u.err
	u.backend.ConnectionLost(u.entry, err)
	u.proxy.metrics.ConnectionClosed(metrics.KindUpstream)

	if err != nil {
		u.logger.Warn("upstream connection lost",
			"error", err.Error(),
			"operations", lost,
			"duration_ms", time.Since(u.startTime).Milliseconds())
	} else {
		u.logger.Debug("upstream connection closed", "duration_ms", time.Since(u.startTime).Milliseconds())
	}
}
