package config

import (
	"strings"
	"time"

	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	cfg.Database.ApplyDefaults()
	applyMetricsDefaults(&cfg.Metrics)
	cfg.ISCSI.ApplyDefaults()
	cfg.TFTP.ApplyDefaults()
	cfg.DHCP.ApplyDefaults()
	cfg.Images.ApplyDefaults()
	cfg.Converter.ApplyDefaults()
	applySessionDefaults(cfg)
	applyAdminDefaults(&cfg.Admin)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applySessionDefaults sets session orchestration defaults. The portal
// address handed to booting clients falls back to the iSCSI portal settings
// so it only needs to be configured once.
func applySessionDefaults(cfg *Config) {
	if cfg.Session.ServerIP == "" {
		cfg.Session.ServerIP = cfg.ISCSI.PortalIP
	}
	if cfg.Session.PortalPort == 0 {
		cfg.Session.PortalPort = cfg.ISCSI.PortalPort
	}
	cfg.Session.ApplyDefaults()
}

// applyAdminDefaults sets admin user defaults.
func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	// PasswordHash has no default - it is set during init
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
		Admin: AdminConfig{
			Username: "admin",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
