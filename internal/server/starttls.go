package server

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// StartTLS errors
var (
	// ErrAlreadyTLS is returned when StartTLS is requested on an already-TLS connection
	ErrAlreadyTLS = errors.New("server: connection already using TLS")
	// ErrNoTLSConfig is returned when TLS configuration is not available
	ErrNoTLSConfig = errors.New("server: TLS configuration not available")
	// ErrDataBeforeHandshake is returned when a client pipelines plaintext after StartTLS
	ErrDataBeforeHandshake = errors.New("server: data received before TLS handshake")
)

// tlsHandshakeTimeout bounds client TLS handshakes.
const tlsHandshakeTimeout = 10 * time.Second

// StartTLSHandler handles the StartTLS extended operation on client
// connections.
type StartTLSHandler struct {
	// tlsConfig is the TLS configuration to use for the upgrade
	tlsConfig *tls.Config
	// mu protects concurrent access
	mu sync.RWMutex
}

// NewStartTLSHandler creates a new StartTLSHandler with the given TLS configuration.
func NewStartTLSHandler(tlsConfig *tls.Config) *StartTLSHandler {
	return &StartTLSHandler{tlsConfig: tlsConfig}
}

// SetTLSConfig updates the TLS configuration.
func (h *StartTLSHandler) SetTLSConfig(tlsConfig *tls.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tlsConfig = tlsConfig
}

// GetTLSConfig returns the current TLS configuration.
func (h *StartTLSHandler) GetTLSConfig() *tls.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tlsConfig
}

// OID returns the StartTLS OID.
func (h *StartTLSHandler) OID() string {
	return ldap.OIDStartTLS
}

// Handle answers a StartTLS request. On success the response is queued and
// the reader runs the handshake once it has been written; nothing else is
// read in the meantime.
func (h *StartTLSHandler) Handle(c *ClientConn, op *Operation, msg *ldap.LDAPMessage, req *ldap.ExtendedRequest) {
	fail := func(code ldap.ResultCode, diag string) {
		c.answerExtended(op, &ldap.ExtendedResponse{
			LDAPResult: ldap.LDAPResult{ResultCode: code, DiagnosticMessage: diag},
			Name:       ldap.OIDStartTLS,
		})
	}

	switch {
	case c.IsTLS():
		fail(ldap.ResultOperationsError, "connection already using TLS")
		return
	case h.GetTLSConfig() == nil:
		fail(ldap.ResultUnavailable, "TLS configuration not available")
		return
	case len(c.ops) > 1 || c.state == bindInFlight:
		fail(ldap.ResultOperationsError, "operations outstanding")
		return
	}

	c.answerExtended(op, &ldap.ExtendedResponse{
		LDAPResult: ldap.LDAPResult{ResultCode: ldap.ResultSuccess},
		Name:       ldap.OIDStartTLS,
	})
	c.upgradeRequested = true
}

// handshake upgrades the raw socket to TLS. It runs on the reader
// goroutine before any further read.
func (c *ClientConn) handshake() error {
	cfg := c.proxy.startTLS.GetTLSConfig()
	if cfg == nil {
		return ErrNoTLSConfig
	}

	c.netMu.Lock()
	raw := c.netConn
	c.netMu.Unlock()

	tlsConn := tls.Server(raw, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}

	c.netMu.Lock()
	c.netConn = tlsConn
	c.netMu.Unlock()
	c.isTLS.Store(true)

	state := tlsConn.ConnectionState()
	c.logger.Debug("TLS established",
		"version", TLSVersionString(state.Version),
		"cipher", tls.CipherSuiteName(state.CipherSuite))
	return nil
}

// upgrade completes a StartTLS: wait for the success response to reach
// the wire, then handshake. Plaintext pipelined after the request is a
// protocol error.
func (c *ClientConn) upgrade(leftover int) error {
	select {
	case <-c.out.empty():
	case <-c.done:
		return ErrConnectionClosed
	}
	if leftover > 0 {
		return ErrDataBeforeHandshake
	}
	if err := c.handshake(); err != nil {
		return err
	}
	c.post(func() {
		c.handshaking = false
		c.upgradeRequested = false
	})
	return nil
}
