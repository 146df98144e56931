package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// Extended operation errors
var (
	// ErrNilHandler is returned when attempting to register a nil handler.
	ErrNilHandler = errors.New("server: cannot register nil handler")
	// ErrEmptyOID is returned when attempting to register a handler with an empty OID.
	ErrEmptyOID = errors.New("server: cannot register handler with empty OID")
)

const diagUnsupportedExtended = "unsupported extended operation"

// ExtendedHandler answers or routes one extended operation. Handlers run on
// the client's task loop and must leave op either in the table awaiting an
// upstream response or answered.
type ExtendedHandler interface {
	// OID returns the request name the handler serves.
	OID() string
	// Handle processes the request.
	Handle(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest)
}

// ExtendedHandlerFunc adapts a function to ExtendedHandler.
type ExtendedHandlerFunc struct {
	oid string
	fn  func(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest)
}

// OID returns the handled OID.
func (h *ExtendedHandlerFunc) OID() string {
	return h.oid
}

// Handle calls the wrapped function.
func (h *ExtendedHandlerFunc) Handle(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest) {
	h.fn(c, op, msg, req)
}

// ExtendedDispatcher maps extended operation OIDs to the handlers the proxy
// answers itself. Anything not registered is forwarded or rejected
// according to the forwardUnknownExtended feature.
type ExtendedDispatcher struct {
	// handlers maps OIDs to their handlers
	handlers map[string]ExtendedHandler
	// mu protects concurrent access to handlers
	mu sync.RWMutex
}

// NewExtendedDispatcher creates a new ExtendedDispatcher.
func NewExtendedDispatcher() *ExtendedDispatcher {
	return &ExtendedDispatcher{
		handlers: make(map[string]ExtendedHandler),
	}
}

// Register registers an extended operation handler, replacing any handler
// registered for the same OID.
func (d *ExtendedDispatcher) Register(handler ExtendedHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	oid := handler.OID()
	if oid == "" {
		return ErrEmptyOID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[oid] = handler
	return nil
}

// RegisterFunc registers a function as the handler for oid.
func (d *ExtendedDispatcher) RegisterFunc(oid string, fn func(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest)) error {
	if fn == nil {
		return ErrNilHandler
	}
	return d.Register(&ExtendedHandlerFunc{oid: oid, fn: fn})
}

// Lookup returns the handler registered for oid.
func (d *ExtendedDispatcher) Lookup(oid string) (ExtendedHandler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[oid]
	return h, ok
}

// HasHandler checks if a handler is registered for the specified OID.
func (d *ExtendedDispatcher) HasHandler(oid string) bool {
	_, ok := d.Lookup(oid)
	return ok
}

// SupportedOIDs returns the registered OIDs in sorted order.
func (d *ExtendedDispatcher) SupportedOIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	oids := make([]string, 0, len(d.handlers))
	for oid := range d.handlers {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	return oids
}

// handleExtended dispatches an extended request on the client's loop.
func (c *ClientConn) handleExtended(op *Operation, msg *ldap.LDAPMessage) {
	req, err := ldap.ParseExtendedRequest(msg.Operation.Data)
	if err != nil {
		c.logger.Debug("invalid extended request", "message_id", msg.MessageID, "error", err.Error())
		c.failOp(op, ldap.ResultProtocolError, "invalid extended request")
		return
	}

	if h, ok := c.proxy.extended.Lookup(req.Name); ok {
		h.Handle(c, op, msg, req)
		return
	}

	if !c.proxy.settings().forwardUnknownExtended {
		c.logger.Debug("rejecting extended operation", "message_id", msg.MessageID, "oid", req.Name)
		c.failOp(op, ldap.ResultProtocolError, diagUnsupportedExtended)
		return
	}
	c.forward(op, msg)
}

// answerExtended sends a proxy-generated ExtendedResponse for op.
func (c *ClientConn) answerExtended(op *Operation, resp *ldap.ExtendedResponse) {
	msg, err := ldap.NewExtendedResponseMessage(op.msgID, resp)
	if err != nil {
		c.failOp(op, ldap.ResultOperationsError, "cannot encode extended response")
		return
	}
	op.kind = opProxied
	_ = c.send(msg)
	c.complete(op, resp.ResultCode.String())
}
