// Package config provides configuration parsing and management for the lload proxy.
//
// # Overview
//
// The config package handles loading, parsing, and validating proxy configuration
// from YAML files and environment variables. It supports:
//
//   - YAML configuration files decoded with gopkg.in/yaml.v3
//   - ${VAR} and ${VAR:-default} substitution inside the file
//   - LLOAD_* environment variable overrides
//   - Default values for all settings
//   - Configuration validation
//   - Hot reload through ConfigManager and ConfigWatcher
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/lload/lload.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    log.Fatal(errs[0])
//	}
//
// # Example Configuration
//
//	listeners:
//	  - address: ":389"
//	  - address: ":636"
//	    tls: true
//	tls:
//	  certFile: /etc/lload/server.crt
//	  keyFile: /etc/lload/server.key
//	backends:
//	  - name: ldap1
//	    address: 10.0.0.5:389
//	    bindStrategy: vc
//	    bindDN: cn=lload,dc=example,dc=com
//	    bindPassword: ${LDAP_SERVICE_PASSWORD}
//	    connections: 8
//	timeouts:
//	  operation: 30s
//	  idle: 10m
//	retry:
//	  base: 1s
//	  max: 30s
//
// # Hot Reload
//
// ConfigManager.Reload re-reads the file, validates it and hands the old and
// new configuration to the update callback. ConfigWatcher triggers Reload on
// file changes; the lload binary also reloads on SIGHUP. Listener and
// logging changes require a restart; backends, timeouts and limits are
// applied live.
package config
