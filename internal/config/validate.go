package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateListeners(config)...)
	errs = append(errs, validateTLSConfig(&config.TLS)...)
	errs = append(errs, validateBackends(config.Backends)...)
	errs = append(errs, validateTimeouts(&config.Timeouts, &config.Retry)...)
	errs = append(errs, validateLimits(&config.Limits)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)
	errs = append(errs, validateMetricsConfig(&config.Metrics)...)
	errs = append(errs, validateAdminConfig(&config.Admin)...)

	return errs
}

func validateListeners(config *Config) []error {
	var errs []error

	if len(config.Listeners) == 0 {
		errs = append(errs, ValidationError{
			Field:   "listeners",
			Message: "at least one listener is required",
		})
	}

	seen := make(map[string]bool)
	for i, l := range config.Listeners {
		field := fmt.Sprintf("listeners[%d]", i)
		if err := validateAddress(l.Address); err != nil {
			errs = append(errs, ValidationError{Field: field + ".address", Message: err.Error()})
		}
		if seen[l.Address] {
			errs = append(errs, ValidationError{Field: field + ".address", Message: "duplicate listener address"})
		}
		seen[l.Address] = true
		if l.TLS && !config.TLS.Enabled() {
			errs = append(errs, ValidationError{
				Field:   field + ".tls",
				Message: "TLS listener requires tls.certFile and tls.keyFile",
			})
		}
	}

	return errs
}

func validateTLSConfig(config *TLSConfig) []error {
	var errs []error

	if config.CertFile != "" || config.KeyFile != "" {
		if config.CertFile == "" {
			errs = append(errs, ValidationError{
				Field:   "tls.certFile",
				Message: "TLS certificate is required when TLS key is specified",
			})
		}
		if config.KeyFile == "" {
			errs = append(errs, ValidationError{
				Field:   "tls.keyFile",
				Message: "TLS key is required when TLS certificate is specified",
			})
		}
	}

	for field, path := range map[string]string{
		"tls.certFile": config.CertFile,
		"tls.keyFile":  config.KeyFile,
		"tls.caFile":   config.CAFile,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("file not accessible: %v", err)})
		}
	}

	switch config.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, ValidationError{
			Field:   "tls.minVersion",
			Message: fmt.Sprintf("unsupported TLS version %q (must be 1.2 or 1.3)", config.MinVersion),
		})
	}

	return errs
}

func validateBackends(backends []BackendConfig) []error {
	var errs []error

	if len(backends) == 0 {
		errs = append(errs, ValidationError{
			Field:   "backends",
			Message: "at least one backend is required",
		})
	}

	names := make(map[string]bool)
	for i := range backends {
		b := &backends[i]
		field := fmt.Sprintf("backends[%d]", i)

		if err := validateAddress(b.Address); err != nil {
			errs = append(errs, ValidationError{Field: field + ".address", Message: err.Error()})
		}
		if names[b.Name] {
			errs = append(errs, ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("duplicate backend name %q", b.Name),
			})
		}
		names[b.Name] = true

		switch b.TLS {
		case TLSModeNone, TLSModeLDAPS, TLSModeStartTLS:
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".tls",
				Message: fmt.Sprintf("invalid TLS mode %q (must be none, ldaps or starttls)", b.TLS),
			})
		}

		switch b.BindStrategy {
		case BindPinning, BindVerifyCredentials:
		default:
			errs = append(errs, ValidationError{
				Field:   field + ".bindStrategy",
				Message: fmt.Sprintf("invalid bind strategy %q (must be pinning or vc)", b.BindStrategy),
			})
		}

		if b.ProxyAuthz && b.BindStrategy != BindVerifyCredentials {
			errs = append(errs, ValidationError{
				Field:   field + ".proxyAuthz",
				Message: "proxyAuthz requires bindStrategy vc",
			})
		}

		if err := validateDN(b.BindDN); err != nil {
			errs = append(errs, ValidationError{Field: field + ".bindDN", Message: err.Error()})
		}

		if b.Connections < 1 {
			errs = append(errs, ValidationError{Field: field + ".connections", Message: "must be at least 1"})
		}
		if b.MaxPendingOps < 1 {
			errs = append(errs, ValidationError{Field: field + ".maxPendingOps", Message: "must be at least 1"})
		}
		if b.MaxPendingDials < 1 {
			errs = append(errs, ValidationError{Field: field + ".maxPendingDials", Message: "must be at least 1"})
		}
		if b.Weight < 0 {
			errs = append(errs, ValidationError{Field: field + ".weight", Message: "cannot be negative"})
		}
		if b.Priority < 0 {
			errs = append(errs, ValidationError{Field: field + ".priority", Message: "cannot be negative"})
		}
	}

	return errs
}

func validateTimeouts(t *TimeoutConfig, r *RetryConfig) []error {
	var errs []error

	nonNegative := map[string]int64{
		"timeouts.operation": int64(t.Operation),
		"timeouts.idle":      int64(t.Idle),
		"timeouts.write":     int64(t.Write),
		"timeouts.shutdown":  int64(t.Shutdown),
	}
	for field, v := range nonNegative {
		if v < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "cannot be negative"})
		}
	}

	if t.Dial <= 0 {
		errs = append(errs, ValidationError{Field: "timeouts.dial", Message: "must be positive"})
	}
	if t.SweepInterval <= 0 {
		errs = append(errs, ValidationError{Field: "timeouts.sweepInterval", Message: "must be positive"})
	}
	if t.AbandonGrace <= 0 {
		errs = append(errs, ValidationError{Field: "timeouts.abandonGrace", Message: "must be positive"})
	}

	if r.Base <= 0 {
		errs = append(errs, ValidationError{Field: "retry.base", Message: "must be positive"})
	}
	if r.Max < r.Base {
		errs = append(errs, ValidationError{Field: "retry.max", Message: "must not be less than retry.base"})
	}

	return errs
}

func validateLimits(l *LimitsConfig) []error {
	var errs []error

	positive := []struct {
		field string
		value int
	}{
		{"limits.maxPDUsPerCycle", l.MaxPDUsPerCycle},
		{"limits.maxPendingClientOps", l.MaxPendingClientOps},
		{"limits.maxUpstreamPDUSize", l.MaxUpstreamPDUSize},
		{"limits.maxPDUSize", l.MaxPDUSize},
		{"limits.writeQueueLimit", l.WriteQueueLimit},
	}
	for _, p := range positive {
		if p.value < 1 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be at least 1"})
		}
	}

	if l.MaxBindQueue < 0 {
		errs = append(errs, ValidationError{Field: "limits.maxBindQueue", Message: "cannot be negative"})
	}

	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	switch strings.ToLower(config.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", config.Level),
		})
	}

	switch strings.ToLower(config.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json or text)", config.Format),
		})
	}

	return errs
}

func validateMetricsConfig(config *MetricsConfig) []error {
	if !config.Enabled {
		return nil
	}

	var errs []error
	if err := validateAddress(config.Address); err != nil {
		errs = append(errs, ValidationError{Field: "metrics.address", Message: err.Error()})
	}
	if !strings.HasPrefix(config.Path, "/") {
		errs = append(errs, ValidationError{Field: "metrics.path", Message: "must start with /"})
	}
	return errs
}

func validateAdminConfig(config *AdminConfig) []error {
	if !config.Enabled {
		return nil
	}

	var errs []error
	if err := validateAddress(config.Address); err != nil {
		errs = append(errs, ValidationError{Field: "admin.address", Message: err.Error()})
	}
	if len(config.JWTSecret) < 16 {
		errs = append(errs, ValidationError{
			Field:   "admin.jwtSecret",
			Message: "must be at least 16 characters when the admin API is enabled",
		})
	}
	return errs
}

// validateAddress validates a network address in host:port format.
func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}

	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %v", err)
	}

	if port == "" {
		return fmt.Errorf("port is required")
	}

	return nil
}

// validateDN validates a distinguished name format.
func validateDN(dn string) error {
	if dn == "" {
		return nil
	}

	parts := strings.Split(dn, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			return fmt.Errorf("invalid RDN format: %s", part)
		}
	}

	return nil
}
