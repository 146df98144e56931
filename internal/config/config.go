package config

import "time"

// Config holds the complete proxy configuration.
type Config struct {
	Listeners []ListenerConfig `yaml:"listeners"`
	TLS       TLSConfig        `yaml:"tls"`
	Backends  []BackendConfig  `yaml:"backends"`
	Timeouts  TimeoutConfig    `yaml:"timeouts"`
	Retry     RetryConfig      `yaml:"retry"`
	Limits    LimitsConfig     `yaml:"limits"`
	Features  FeatureConfig    `yaml:"features"`
	Logging   LogConfig        `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Admin     AdminConfig      `yaml:"admin"`
}

// ListenerConfig describes one client-facing listener.
type ListenerConfig struct {
	Address string `yaml:"address"`
	// TLS makes the listener speak LDAPS (TLS before the first PDU).
	TLS bool `yaml:"tls"`
}

// TLSConfig holds the proxy's server certificate, used by LDAPS listeners
// and StartTLS.
type TLSConfig struct {
	CertFile   string `yaml:"certFile"`
	KeyFile    string `yaml:"keyFile"`
	CAFile     string `yaml:"caFile"`
	MinVersion string `yaml:"minVersion"`
}

// Enabled reports whether a server certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// Upstream TLS modes.
const (
	TLSModeNone     = "none"
	TLSModeLDAPS    = "ldaps"
	TLSModeStartTLS = "starttls"
)

// Bind strategies.
const (
	// BindPinning dedicates an upstream connection to a bound client.
	BindPinning = "pinning"
	// BindVerifyCredentials checks client credentials over shared connections.
	BindVerifyCredentials = "vc"
)

// BackendConfig describes one upstream directory server.
type BackendConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`

	TLS           string `yaml:"tls"`
	TLSSkipVerify bool   `yaml:"tlsSkipVerify"`
	TLSCAFile     string `yaml:"tlsCAFile"`

	BindStrategy string `yaml:"bindStrategy"`
	// BindDN and BindPassword are the service identity shared upstream
	// connections are bound as. Empty means anonymous.
	BindDN       string `yaml:"bindDN"`
	BindPassword string `yaml:"bindPassword"`
	// ProxyAuthz adds a Proxied Authorization control carrying the client's
	// verified identity to forwarded operations (vc strategy only).
	ProxyAuthz bool `yaml:"proxyAuthz"`

	// Connections is the pool size.
	Connections int `yaml:"connections"`
	// MaxPendingOps caps concurrently outstanding operations per upstream connection.
	MaxPendingOps int `yaml:"maxPendingOps"`
	// MaxPendingDials caps dials in progress at once.
	MaxPendingDials int `yaml:"maxPendingDials"`

	Weight   int `yaml:"weight"`
	Priority int `yaml:"priority"`
}

// TimeoutConfig holds every timer the proxy runs.
type TimeoutConfig struct {
	// Operation is the deadline for an operation to receive its final response.
	Operation time.Duration `yaml:"operation"`
	// Idle closes client connections without outstanding operations.
	Idle time.Duration `yaml:"idle"`
	// Write closes connections whose peer stops reading.
	Write time.Duration `yaml:"write"`
	// Dial bounds connecting, TLS and service bind of a new upstream connection.
	Dial time.Duration `yaml:"dial"`
	// SweepInterval is how often the timeout sweep runs.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// AbandonGrace is how long an abandoned upstream message id stays reserved.
	AbandonGrace time.Duration `yaml:"abandonGrace"`
	// Shutdown bounds the graceful drain on SIGTERM.
	Shutdown time.Duration `yaml:"shutdown"`
}

// RetryConfig controls backend reconnection backoff.
type RetryConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// LimitsConfig bounds per-connection resource use.
type LimitsConfig struct {
	// MaxPDUsPerCycle is the number of PDUs handled per read before yielding.
	MaxPDUsPerCycle int `yaml:"maxPDUsPerCycle"`
	// MaxPendingClientOps caps outstanding operations per client connection.
	MaxPendingClientOps int `yaml:"maxPendingClientOps"`
	// MaxUpstreamPDUSize caps the size of a single upstream PDU in bytes.
	MaxUpstreamPDUSize int `yaml:"maxUpstreamPDUSize"`
	// MaxPDUSize caps the size of a single client PDU in bytes.
	MaxPDUSize int `yaml:"maxPDUSize"`
	// WriteQueueLimit is the outbound byte count above which peers stop reading.
	WriteQueueLimit int `yaml:"writeQueueLimit"`
	// MaxBindQueue caps requests queued behind an in-flight bind.
	MaxBindQueue int `yaml:"maxBindQueue"`
}

// FeatureConfig toggles optional behaviour.
type FeatureConfig struct {
	// ForwardUnknownExtended sends unrecognised extended operations upstream
	// instead of rejecting them.
	ForwardUnknownExtended bool `yaml:"forwardUnknownExtended"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig holds Prometheus exporter configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// AdminConfig holds the admin HTTP API configuration.
type AdminConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Address   string        `yaml:"address"`
	JWTSecret string        `yaml:"jwtSecret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"tokenTTL"`
}
