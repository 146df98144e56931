package config

import (
	"fmt"
	"sync"
)

// ConfigManager manages runtime configuration with hot reload support.
type ConfigManager struct {
	config     *Config
	configFile string
	mu         sync.RWMutex
	onUpdate   func(old, new *Config)
}

// NewConfigManager creates a new config manager.
func NewConfigManager(cfg *Config, configFile string) *ConfigManager {
	return &ConfigManager{
		config:     cfg,
		configFile: configFile,
	}
}

// SetOnUpdate sets the callback for config updates.
func (m *ConfigManager) SetOnUpdate(fn func(old, new *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// GetConfig returns the current config.
func (m *ConfigManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetConfigFile returns the config file path.
func (m *ConfigManager) GetConfigFile() string {
	return m.configFile
}

// Reload reloads config from file. An invalid file leaves the current
// configuration in place.
func (m *ConfigManager) Reload() error {
	if m.configFile == "" {
		return fmt.Errorf("no config file configured")
	}

	newConfig, err := LoadConfig(m.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return m.Apply(newConfig)
}

// Apply validates cfg and makes it current, invoking the update callback
// synchronously with the previous and new configuration.
func (m *ConfigManager) Apply(newConfig *Config) error {
	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs[0])
	}

	m.mu.Lock()
	oldConfig := m.config
	m.config = newConfig
	onUpdate := m.onUpdate
	m.mu.Unlock()

	if onUpdate != nil {
		onUpdate(oldConfig, newConfig)
	}

	return nil
}

// BackendView is the JSON shape of a backend with secrets masked.
type BackendView struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	TLS             string `json:"tls"`
	BindStrategy    string `json:"bindStrategy"`
	BindDN          string `json:"bindDN,omitempty"`
	BindPassword    string `json:"bindPassword,omitempty"`
	ProxyAuthz      bool   `json:"proxyAuthz"`
	Connections     int    `json:"connections"`
	MaxPendingOps   int    `json:"maxPendingOps"`
	MaxPendingDials int    `json:"maxPendingDials"`
	Weight          int    `json:"weight"`
	Priority        int    `json:"priority"`
}

// ConfigJSON represents config in JSON format with sensitive data masked.
type ConfigJSON struct {
	Listeners []ListenerConfig  `json:"listeners"`
	Backends  []BackendView     `json:"backends"`
	Timeouts  map[string]string `json:"timeouts"`
	Retry     map[string]string `json:"retry"`
	Limits    LimitsConfig      `json:"limits"`
	Features  FeatureConfig     `json:"features"`
	Logging   LogConfig         `json:"logging"`
}

// ToJSON returns the current config with passwords masked.
func (m *ConfigManager) ToJSON() *ConfigJSON {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.config
	out := &ConfigJSON{
		Listeners: append([]ListenerConfig(nil), c.Listeners...),
		Timeouts: map[string]string{
			"operation":     c.Timeouts.Operation.String(),
			"idle":          c.Timeouts.Idle.String(),
			"write":         c.Timeouts.Write.String(),
			"dial":          c.Timeouts.Dial.String(),
			"sweepInterval": c.Timeouts.SweepInterval.String(),
			"abandonGrace":  c.Timeouts.AbandonGrace.String(),
			"shutdown":      c.Timeouts.Shutdown.String(),
		},
		Retry: map[string]string{
			"base": c.Retry.Base.String(),
			"max":  c.Retry.Max.String(),
		},
		Limits:   c.Limits,
		Features: c.Features,
		Logging:  c.Logging,
	}

	for _, b := range c.Backends {
		out.Backends = append(out.Backends, BackendView{
			Name:            b.Name,
			Address:         b.Address,
			TLS:             b.TLS,
			BindStrategy:    b.BindStrategy,
			BindDN:          b.BindDN,
			BindPassword:    maskSecret(b.BindPassword),
			ProxyAuthz:      b.ProxyAuthz,
			Connections:     b.Connections,
			MaxPendingOps:   b.MaxPendingOps,
			MaxPendingDials: b.MaxPendingDials,
			Weight:          b.Weight,
			Priority:        b.Priority,
		})
	}

	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
