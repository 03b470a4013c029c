package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Backend != "file" {
		t.Errorf("expected storage backend file, got %s", cfg.Storage.Backend)
	}
	if cfg.Identity.LoginUser != "user" {
		t.Errorf("expected login user user, got %s", cfg.Identity.LoginUser)
	}
	if len(cfg.Shell.SearchPath) != 2 || cfg.Shell.SearchPath[0] != "/bin" {
		t.Errorf("unexpected search path %v", cfg.Shell.SearchPath)
	}
	if len(cfg.Migration.ForcedPaths) != 1 {
		t.Errorf("expected one forced path, got %v", cfg.Migration.ForcedPaths)
	}
}

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
storage:
  backend: "sqlite"
  path: "/custom/disk.db"
  debounce: "2s"
identity:
  login_user: "guest"
  root_password: "toor"
shell:
  admin_groups: ["admin"]
  history_limit: 10
mount:
  mount_point: "/mnt/simfs"
  allow_other: true
logging:
  level: "debug"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %s", cfg.Storage.Backend)
	}
	if cfg.Storage.Path != "/custom/disk.db" {
		t.Errorf("expected path /custom/disk.db, got %s", cfg.Storage.Path)
	}
	if cfg.Identity.LoginUser != "guest" {
		t.Errorf("expected login user guest, got %s", cfg.Identity.LoginUser)
	}
	if cfg.Identity.RootPassword != "toor" {
		t.Errorf("expected root password toor, got %s", cfg.Identity.RootPassword)
	}
	// Unset fields keep their defaults
	if cfg.Identity.UserPassword != "user" {
		t.Errorf("expected default user password, got %s", cfg.Identity.UserPassword)
	}
	if len(cfg.Shell.AdminGroups) != 1 || cfg.Shell.AdminGroups[0] != "admin" {
		t.Errorf("expected admin groups [admin], got %v", cfg.Shell.AdminGroups)
	}
	if cfg.Shell.HistoryLimit != 10 {
		t.Errorf("expected history limit 10, got %d", cfg.Shell.HistoryLimit)
	}
	if !cfg.Mount.AllowOther {
		t.Error("expected allow_other true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configPath, []byte("storage: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoadOrDefault(t *testing.T) {
	// Test with non-existent file
	cfg, err := LoadOrDefault("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for non-existent file: %v", err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("expected default backend file, got %s", cfg.Storage.Backend)
	}

	// Test with empty path
	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for empty path: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestStorageConfigDebounce(t *testing.T) {
	cfg := &StorageConfig{Debounce: "45ms"}

	if cfg.GetDebounce() != 45*time.Millisecond {
		t.Errorf("expected 45ms, got %v", cfg.GetDebounce())
	}

	// Test invalid duration fallback
	cfg.Debounce = "invalid"
	if cfg.GetDebounce() != 750*time.Millisecond {
		t.Errorf("expected fallback 750ms, got %v", cfg.GetDebounce())
	}
}
