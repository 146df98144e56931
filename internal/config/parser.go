package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Parser errors.
var (
	ErrInvalidYAML       = errors.New("invalid YAML format")
	ErrFileNotFound      = errors.New("configuration file not found")
	ErrMissingConfigFile = errors.New("config file path is required")
	ErrMissingOnChange   = errors.New("onChange callback is required")
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LLOAD_"

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// applies defaults for missing values and finally LLOAD_* overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses configuration from YAML data.
// It substitutes environment variables and applies defaults for missing values.
func ParseConfig(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	config := DefaultConfig()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	}

	for i := range config.Backends {
		ApplyBackendDefaults(&config.Backends[i])
	}

	return config, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])

		if idx := strings.Index(content, ":-"); idx != -1 {
			varName := content[:idx]
			defaultVal := content[idx+2:]
			if val := os.Getenv(varName); val != "" {
				return []byte(val)
			}
			return []byte(defaultVal)
		}

		return []byte(os.Getenv(content))
	})
}

// applyEnvOverrides applies LLOAD_* environment variables on top of the
// file configuration.
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv(EnvPrefix + "LISTEN_ADDRESS"); val != "" {
		if len(cfg.Listeners) == 0 {
			cfg.Listeners = append(cfg.Listeners, ListenerConfig{})
		}
		cfg.Listeners[0].Address = val
	}

	if val := os.Getenv(EnvPrefix + "LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv(EnvPrefix + "LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}

	if val := os.Getenv(EnvPrefix + "TLS_CERT_FILE"); val != "" {
		cfg.TLS.CertFile = val
	}
	if val := os.Getenv(EnvPrefix + "TLS_KEY_FILE"); val != "" {
		cfg.TLS.KeyFile = val
	}

	if val := os.Getenv(EnvPrefix + "OPERATION_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sOPERATION_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Timeouts.Operation = d
	}
	if val := os.Getenv(EnvPrefix + "IDLE_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sIDLE_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Timeouts.Idle = d
	}

	if val := os.Getenv(EnvPrefix + "METRICS_ENABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%sMETRICS_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Metrics.Enabled = b
	}
	if val := os.Getenv(EnvPrefix + "METRICS_ADDRESS"); val != "" {
		cfg.Metrics.Address = val
	}

	if val := os.Getenv(EnvPrefix + "ADMIN_ENABLED"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%sADMIN_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Admin.Enabled = b
	}
	if val := os.Getenv(EnvPrefix + "ADMIN_JWT_SECRET"); val != "" {
		cfg.Admin.JWTSecret = val
	}

	return nil
}
