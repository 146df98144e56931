package server

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/lload/internal/ber"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// fakeDirectory is a minimal upstream LDAP server. It answers simple binds
// against a fixed user table, returns one entry per search, implements
// Verify Credentials and Who Am I, and records every request it receives.
type fakeDirectory struct {
	t     *testing.T
	ln    net.Listener
	users map[string]string

	mu       sync.Mutex
	sessions []*fakeSession
	received []fakeRequest
	hold     bool
	held     []heldSearch
	holdBind bool
	// heldBinds are bind responses waiting for releaseBinds
	heldBinds []heldReply
}

// fakeSession is one connection accepted by the fake directory.
type fakeSession struct {
	id   int
	conn net.Conn
	wmu  sync.Mutex
	// boundDN is only touched by the session goroutine
	boundDN string
}

// fakeRequest is a request as the fake directory saw it.
type fakeRequest struct {
	session int
	msg     *ldap.LDAPMessage
}

type heldSearch struct {
	session *fakeSession
	msgID   int
}

type heldReply struct {
	session *fakeSession
	msg     *ldap.LDAPMessage
}

func newFakeDirectory(t *testing.T, users map[string]string) *fakeDirectory {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := &fakeDirectory{t: t, ln: ln, users: users}
	go d.serve()
	t.Cleanup(d.close)
	return d
}

func (d *fakeDirectory) addr() string {
	return d.ln.Addr().String()
}

func (d *fakeDirectory) serve() {
	for {
		nc, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		s := &fakeSession{id: len(d.sessions) + 1, conn: nc}
		d.sessions = append(d.sessions, s)
		d.mu.Unlock()
		go d.session(s)
	}
}

func (d *fakeDirectory) close() {
	_ = d.ln.Close()
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		_ = s.conn.Close()
	}
}

func (d *fakeDirectory) session(s *fakeSession) {
	defer s.conn.Close()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		for {
			msg, n, err := ldap.ReadMessage(buf, 1<<20)
			if errors.Is(err, ldap.ErrIncomplete) {
				break
			}
			if err != nil {
				return
			}
			buf = buf[n:]
			if !d.handle(s, msg) {
				return
			}
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return
		}
	}
}

// handle answers one request. It returns false when the session ends.
func (d *fakeDirectory) handle(s *fakeSession, msg *ldap.LDAPMessage) bool {
	d.mu.Lock()
	d.received = append(d.received, fakeRequest{session: s.id, msg: msg})
	d.mu.Unlock()

	switch msg.OperationType() {
	case ldap.ApplicationUnbindRequest:
		return false

	case ldap.ApplicationAbandonRequest:

	case ldap.ApplicationBindRequest:
		req, err := ldap.ParseBindRequest(msg.Operation.Data)
		if err != nil {
			d.reply(s, ldap.NewResultMessage(msg.MessageID, ldap.ApplicationBindRequest, ldap.ResultProtocolError, ""))
			return true
		}
		code := d.check(req.Name, req.SimplePassword)
		if code == ldap.ResultSuccess {
			s.boundDN = req.Name
		} else {
			s.boundDN = ""
		}
		resp := ldap.NewResultMessage(msg.MessageID, ldap.ApplicationBindRequest, code, "")
		d.mu.Lock()
		if d.holdBind {
			d.heldBinds = append(d.heldBinds, heldReply{session: s, msg: resp})
			d.mu.Unlock()
			return true
		}
		d.mu.Unlock()
		d.reply(s, resp)

	case ldap.ApplicationSearchRequest:
		d.mu.Lock()
		if d.hold {
			d.held = append(d.held, heldSearch{session: s, msgID: msg.MessageID})
			d.mu.Unlock()
			return true
		}
		d.mu.Unlock()
		d.answerSearch(s, msg.MessageID)

	case ldap.ApplicationExtendedRequest:
		d.handleExtended(s, msg)

	default:
		d.reply(s, ldap.NewResultMessage(msg.MessageID, msg.OperationType(), ldap.ResultSuccess, ""))
	}
	return true
}

func (d *fakeDirectory) check(name string, password []byte) ldap.ResultCode {
	if name == "" {
		return ldap.ResultSuccess
	}
	if pw, ok := d.users[name]; ok && pw == string(password) {
		return ldap.ResultSuccess
	}
	return ldap.ResultInvalidCredentials
}

func (d *fakeDirectory) handleExtended(s *fakeSession, msg *ldap.LDAPMessage) {
	req, err := ldap.ParseExtendedRequest(msg.Operation.Data)
	if err != nil {
		d.reply(s, ldap.NewResultMessage(msg.MessageID, ldap.ApplicationExtendedRequest, ldap.ResultProtocolError, ""))
		return
	}

	resp := &ldap.ExtendedResponse{}
	switch req.Name {
	case ldap.OIDWhoAmI:
		if s.boundDN != "" {
			resp.Value = []byte("dn:" + s.boundDN)
		}
	case ldap.OIDVerifyCredentials:
		vc, err := ldap.ParseVerifyCredentialsRequest(req.Value)
		if err != nil {
			resp.ResultCode = ldap.ResultProtocolError
			break
		}
		value, err := (&ldap.VerifyCredentialsResponse{ResultCode: d.check(vc.Name, vc.SimplePassword)}).Encode()
		if err != nil {
			d.t.Errorf("fake directory: encode verify credentials response: %v", err)
			return
		}
		resp.Name = ldap.OIDVerifyCredentials
		resp.Value = value
	default:
		resp.Name = req.Name
		resp.Value = req.Value
	}
	out, err := ldap.NewExtendedResponseMessage(msg.MessageID, resp)
	if err != nil {
		d.t.Errorf("fake directory: encode extended response: %v", err)
		return
	}
	d.reply(s, out)
}

func (d *fakeDirectory) answerSearch(s *fakeSession, msgID int) {
	d.reply(s, searchEntry(msgID, "cn=entry,dc=example,dc=com"))
	d.reply(s, ldap.NewResultMessage(msgID, ldap.ApplicationSearchRequest, ldap.ResultSuccess, ""))
}

func (d *fakeDirectory) reply(s *fakeSession, msg *ldap.LDAPMessage) {
	data, err := msg.Encode()
	if err != nil {
		d.t.Errorf("fake directory: encode response: %v", err)
		return
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, _ = s.conn.Write(data)
}

// holdSearches makes the directory sit on search requests until
// releaseSearches is called.
func (d *fakeDirectory) holdSearches() {
	d.mu.Lock()
	d.hold = true
	d.mu.Unlock()
}

func (d *fakeDirectory) releaseSearches() {
	d.mu.Lock()
	d.hold = false
	held := d.held
	d.held = nil
	d.mu.Unlock()
	for _, h := range held {
		d.answerSearch(h.session, h.msgID)
	}
}

// holdBinds makes the directory sit on bind responses until releaseBinds
// is called.
func (d *fakeDirectory) holdBinds() {
	d.mu.Lock()
	d.holdBind = true
	d.mu.Unlock()
}

func (d *fakeDirectory) releaseBinds() {
	d.mu.Lock()
	d.holdBind = false
	held := d.heldBinds
	d.heldBinds = nil
	d.mu.Unlock()
	for _, h := range held {
		d.reply(h.session, h.msg)
	}
}

// heldCount returns the number of searches waiting for an answer.
func (d *fakeDirectory) heldCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}

// dropSessions closes every upstream connection.
func (d *fakeDirectory) dropSessions() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		_ = s.conn.Close()
	}
	d.held = nil
}

// sendNotice sends a Notice of Disconnection on every connection.
func (d *fakeDirectory) sendNotice() {
	d.mu.Lock()
	sessions := append([]*fakeSession(nil), d.sessions...)
	d.mu.Unlock()
	for _, s := range sessions {
		d.reply(s, ldap.NewNoticeOfDisconnection(ldap.ResultUnavailable, "going away"))
	}
}

func (d *fakeDirectory) sessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// requests returns the received requests of the given type.
func (d *fakeDirectory) requests(tag int) []fakeRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []fakeRequest
	for _, r := range d.received {
		if int(r.msg.OperationType()) == tag {
			out = append(out, r)
		}
	}
	return out
}

// waitRequests waits until n requests of the given type have arrived.
func (d *fakeDirectory) waitRequests(t *testing.T, tag, n int) []fakeRequest {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(d.requests(tag)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return d.requests(tag)
}

// searchRequest builds a base-scope (objectClass=*) search.
func searchRequest(id int, base string) *ldap.LDAPMessage {
	e := ber.NewBEREncoder(64)
	_ = e.WriteOctetString([]byte(base))
	_ = e.WriteEnumerated(0)
	_ = e.WriteEnumerated(0)
	_ = e.WriteInteger(0)
	_ = e.WriteInteger(0)
	_ = e.WriteBoolean(false)
	_ = e.WriteTaggedValue(7, false, []byte("objectClass"))
	pos := e.BeginSequence()
	_ = e.EndSequence(pos)
	return ldap.NewMessage(id, ldap.ApplicationSearchRequest, e.Bytes())
}

// searchEntry builds a SearchResultEntry without attributes.
func searchEntry(id int, dn string) *ldap.LDAPMessage {
	e := ber.NewBEREncoder(64)
	_ = e.WriteOctetString([]byte(dn))
	pos := e.BeginSequence()
	_ = e.EndSequence(pos)
	return ldap.NewMessage(id, ldap.ApplicationSearchResultEntry, e.Bytes())
}
