package config

import "time"

// Per-backend defaults.
const (
	DefaultBackendConnections     = 4
	DefaultBackendMaxPendingOps   = 128
	DefaultBackendMaxPendingDials = 2
	DefaultBackendWeight          = 1
)

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Listeners: []ListenerConfig{{Address: ":389"}},
		TLS: TLSConfig{
			MinVersion: "1.2",
		},
		Timeouts: TimeoutConfig{
			Operation:     30 * time.Second,
			Idle:          0,
			Write:         10 * time.Second,
			Dial:          5 * time.Second,
			SweepInterval: time.Second,
			AbandonGrace:  10 * time.Second,
			Shutdown:      30 * time.Second,
		},
		Retry: RetryConfig{
			Base: time.Second,
			Max:  30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxPDUsPerCycle:     1,
			MaxPendingClientOps: 1000,
			MaxUpstreamPDUSize:  4 << 20,
			MaxPDUSize:          4 << 20,
			WriteQueueLimit:     1 << 20,
			MaxBindQueue:        32,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Address:   ":9389",
			Path:      "/metrics",
			Namespace: "lload",
		},
		Admin: AdminConfig{
			Enabled:  false,
			Address:  "127.0.0.1:8389",
			Issuer:   "lload",
			TokenTTL: time.Hour,
		},
	}
}

// ApplyBackendDefaults fills unset per-backend fields.
func ApplyBackendDefaults(b *BackendConfig) {
	if b.TLS == "" {
		b.TLS = TLSModeNone
	}
	if b.BindStrategy == "" {
		b.BindStrategy = BindPinning
	}
	if b.Connections == 0 {
		b.Connections = DefaultBackendConnections
	}
	if b.MaxPendingOps == 0 {
		b.MaxPendingOps = DefaultBackendMaxPendingOps
	}
	if b.MaxPendingDials == 0 {
		b.MaxPendingDials = DefaultBackendMaxPendingDials
	}
	if b.Weight == 0 {
		b.Weight = DefaultBackendWeight
	}
	if b.Name == "" {
		b.Name = b.Address
	}
}
