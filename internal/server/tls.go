package server

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/KilimcininKorOglu/lload/internal/config"
)

// Default cipher suites (secure defaults for TLS 1.2).
// TLS 1.3 cipher suites are automatically managed by Go.
var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// TLS configuration errors.
var (
	ErrNoCertificate     = errors.New("no certificate provided")
	ErrNoPrivateKey      = errors.New("no private key provided")
	ErrCertKeyMismatch   = errors.New("certificate and private key do not match")
	ErrCertFileNotFound  = errors.New("certificate file not found")
	ErrKeyFileNotFound   = errors.New("private key file not found")
	ErrInvalidCAPEM      = errors.New("invalid CA PEM data")
	ErrInvalidTLSVersion = errors.New("invalid TLS version")
)

// ListenerTLSConfig builds the server side TLS configuration used by LDAPS
// listeners and StartTLS. It returns nil, nil when no certificate is
// configured.
func ListenerTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	cert, err := LoadCertificate(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		CipherSuites: defaultCipherSuites,
	}

	// A CA bundle enables optional client certificates.
	if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsConfig, nil
}

// UpstreamTLSConfig builds the client side TLS configuration for a backend
// using ldaps or starttls.
func UpstreamTLSConfig(cfg config.BackendConfig) (*tls.Config, error) {
	host := cfg.Address
	if h, _, err := net.SplitHostPort(cfg.Address); err == nil {
		host = h
	}

	tlsConfig := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify, // #nosec G402 -- operator opt-in
	}

	if cfg.TLSCAFile != "" {
		pool, err := loadCAPool(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// LoadCertificate loads a certificate from file paths.
func LoadCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if certFile == "" {
		return tls.Certificate{}, ErrNoCertificate
	}
	if keyFile == "" {
		return tls.Certificate{}, ErrNoPrivateKey
	}

	if _, err := os.Stat(certFile); os.IsNotExist(err) {
		return tls.Certificate{}, ErrCertFileNotFound
	}
	if _, err := os.Stat(keyFile); os.IsNotExist(err) {
		return tls.Certificate{}, ErrKeyFileNotFound
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		if isKeyMismatchError(err) {
			return tls.Certificate{}, ErrCertKeyMismatch
		}
		return tls.Certificate{}, fmt.Errorf("failed to load certificate: %w", err)
	}

	return cert, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, ErrInvalidCAPEM
	}
	return pool, nil
}

// parseTLSVersion maps the configured minimum version to its constant.
// An empty string means TLS 1.2.
func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTLSVersion, v)
	}
}

// isKeyMismatchError checks if the error indicates a certificate/key mismatch.
func isKeyMismatchError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "private key does not match") ||
		strings.Contains(errStr, "private key type does not match")
}

// TLSVersionString returns a human-readable string for a TLS version.
func TLSVersionString(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("unknown (0x%04x)", version)
	}
}
