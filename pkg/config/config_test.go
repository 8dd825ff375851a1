package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggnet/ggboot/internal/bytesize"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

database:
  type: sqlite

iscsi:
  portal_ip: "192.168.1.1"

api:
  port: 8080
  jwt:
    secret: "test-secret-key-for-testing-minimum-32-chars"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level normalized to INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
	if cfg.TFTP.Root != "/srv/tftp" {
		t.Errorf("Expected default TFTP root, got %q", cfg.TFTP.Root)
	}
	if cfg.Session.WatchdogInterval != 60*time.Second {
		t.Errorf("Expected default watchdog interval 60s, got %v", cfg.Session.WatchdogInterval)
	}
	if cfg.Session.ActivityTimeout != 15*time.Minute {
		t.Errorf("Expected default client activity timeout 15m, got %v", cfg.Session.ActivityTimeout)
	}

	// The session portal falls back to the iSCSI portal settings.
	if cfg.Session.ServerIP != "192.168.1.1" {
		t.Errorf("Expected session server IP to fall back to iscsi.portal_ip, got %q", cfg.Session.ServerIP)
	}
	if cfg.Session.PortalPort != 3260 {
		t.Errorf("Expected session portal port 3260, got %d", cfg.Session.PortalPort)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Database.Type != store.DatabaseTypeSQLite {
		t.Errorf("Expected default database type sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Admin.Username != "admin" {
		t.Errorf("Expected default admin username, got %q", cfg.Admin.Username)
	}
}

func TestLoad_DurationAndSizeParsing(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
session:
  watchdog_interval: "2m"
  client_activity_timeout: "30m"

images:
  max_upload_bytes: "10Gi"

converter:
  conversion_timeout: "1h"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Session.WatchdogInterval != 2*time.Minute {
		t.Errorf("Expected watchdog interval 2m, got %v", cfg.Session.WatchdogInterval)
	}
	if cfg.Session.ActivityTimeout != 30*time.Minute {
		t.Errorf("Expected client activity timeout 30m, got %v", cfg.Session.ActivityTimeout)
	}
	if cfg.Images.MaxUploadBytes != 10*bytesize.GiB {
		t.Errorf("Expected max upload 10Gi, got %v", cfg.Images.MaxUploadBytes)
	}
	if cfg.Converter.ConversionTimeout != time.Hour {
		t.Errorf("Expected conversion timeout 1h, got %v", cfg.Converter.ConversionTimeout)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("logging: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.ISCSI.PortalIP = "10.0.0.1"
	cfg.Admin.PasswordHash = "$2a$10$abcdefghijklmnopqrstuv"

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Saved config not found: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.ISCSI.PortalIP != "10.0.0.1" {
		t.Errorf("Expected portal IP to survive round trip, got %q", loaded.ISCSI.PortalIP)
	}
	if loaded.Admin.PasswordHash != cfg.Admin.PasswordHash {
		t.Error("Expected admin password hash to survive round trip")
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := MustLoad(filepath.Join(tmpDir, "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
}
