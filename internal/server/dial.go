package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/KilimcininKorOglu/lload/internal/backend"
	"github.com/KilimcininKorOglu/lload/internal/config"
	"github.com/KilimcininKorOglu/lload/internal/ldap"
)

// Dial errors
var (
	// ErrStartTLSRefused is returned when an upstream rejects StartTLS
	ErrStartTLSRefused = errors.New("server: upstream refused StartTLS")
	// ErrServiceBind is returned when the service identity bind fails
	ErrServiceBind = errors.New("server: service bind failed")
	// ErrUnexpectedResponse is returned when a dial exchange gets the wrong PDU
	ErrUnexpectedResponse = errors.New("server: unexpected response during connection setup")
)

// dialUpstream is the backend.DialFunc of the proxy. It connects, applies
// the backend's TLS mode, binds as the service identity and starts the
// connection. The whole sequence is bounded by ctx.
func (p *Proxy) dialUpstream(ctx context.Context, b *backend.Backend, e *backend.Entry) (backend.Conn, error) {
	cfg := b.Config()
	start := time.Now()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}

	nc, msgID, err := p.setupUpstream(ctx, nc, cfg)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	_ = nc.SetDeadline(time.Time{})

	u := newUpstreamConn(p, nc, b, e, msgID)
	if _, ok := nc.(*tls.Conn); ok {
		u.isTLS.Store(true)
	}
	u.start()
	u.logger.Info("upstream connection established",
		"tls", cfg.TLS,
		"duration_ms", time.Since(start).Milliseconds())
	return u, nil
}

// setupUpstream runs the synchronous part of connection setup and returns
// the (possibly TLS wrapped) connection with the last message id used.
func (p *Proxy) setupUpstream(ctx context.Context, nc net.Conn, cfg config.BackendConfig) (net.Conn, int, error) {
	msgID := 0

	switch cfg.TLS {
	case config.TLSModeLDAPS:
		tc, err := clientHandshake(ctx, nc, cfg)
		if err != nil {
			return nc, 0, err
		}
		nc = tc

	case config.TLSModeStartTLS:
		msgID++
		req, err := (&ldap.ExtendedRequest{Name: ldap.OIDStartTLS}).Message(msgID)
		if err != nil {
			return nc, 0, err
		}
		resp, err := exchange(nc, req, p.settings().maxUpstreamPDUSize)
		if err != nil {
			return nc, 0, err
		}
		if resp.OperationType() != ldap.ApplicationExtendedResponse {
			return nc, 0, ErrUnexpectedResponse
		}
		ext, err := ldap.ParseExtendedResponse(resp.Operation.Data)
		if err != nil {
			return nc, 0, err
		}
		if ext.ResultCode != ldap.ResultSuccess {
			return nc, 0, fmt.Errorf("%w: %s %s", ErrStartTLSRefused, ext.ResultCode, ext.DiagnosticMessage)
		}
		tc, err := clientHandshake(ctx, nc, cfg)
		if err != nil {
			return nc, 0, err
		}
		nc = tc
	}

	if cfg.BindDN != "" {
		msgID++
		req, err := ldap.NewSimpleBind(cfg.BindDN, []byte(cfg.BindPassword)).Message(msgID)
		if err != nil {
			return nc, 0, err
		}
		resp, err := exchange(nc, req, p.settings().maxUpstreamPDUSize)
		if err != nil {
			return nc, 0, err
		}
		if resp.OperationType() != ldap.ApplicationBindResponse {
			return nc, 0, ErrUnexpectedResponse
		}
		br, err := ldap.ParseBindResponse(resp.Operation.Data)
		if err != nil {
			return nc, 0, err
		}
		if br.ResultCode != ldap.ResultSuccess {
			return nc, 0, fmt.Errorf("%w: %s %s", ErrServiceBind, br.ResultCode, br.DiagnosticMessage)
		}
	}

	return nc, msgID, nil
}

func clientHandshake(ctx context.Context, nc net.Conn, cfg config.BackendConfig) (*tls.Conn, error) {
	tlsConfig, err := UpstreamTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	tc := tls.Client(nc, tlsConfig)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake with %s: %w", cfg.Address, err)
	}
	return tc, nil
}

// exchange writes req and reads the response carrying the same message id.
// It is only used before the connection's goroutines start.
func exchange(nc net.Conn, req *ldap.LDAPMessage, maxSize int) (*ldap.LDAPMessage, error) {
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := nc.Write(data); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 512)
	chunk := make([]byte, 4096)
	for {
		msg, n, err := ldap.ReadMessage(buf, maxSize)
		switch {
		case err == nil:
			if msg.MessageID != req.MessageID {
				return nil, fmt.Errorf("%w: message id %d", ErrUnexpectedResponse, msg.MessageID)
			}
			if n != len(buf) {
				return nil, fmt.Errorf("%w: trailing data", ErrUnexpectedResponse)
			}
			return msg, nil
		case !errors.Is(err, ldap.ErrIncomplete):
			return nil, err
		}

		r, err := nc.Read(chunk)
		buf = append(buf, chunk[:r]...)
		if err != nil && r == 0 {
			return nil, err
		}
	}
}
