// Package config provides configuration management for simfs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete simfs configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Identity  IdentityConfig  `yaml:"identity"`
	Shell     ShellConfig     `yaml:"shell"`
	Migration MigrationConfig `yaml:"migration"`
	Mount     MountConfig     `yaml:"mount"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects where snapshots of the virtual disk are kept.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory, file, sqlite
	Path        string `yaml:"path"`
	Debounce    string `yaml:"debounce"`
	BackupCount int    `yaml:"backup_count"`
}

// IdentityConfig holds the seeded default accounts.
type IdentityConfig struct {
	LoginUser     string `yaml:"login_user"`
	RootPassword  string `yaml:"root_password"`
	UserPassword  string `yaml:"user_password"`
	GuestPassword string `yaml:"guest_password"`
}

// ShellConfig holds interpreter settings.
type ShellConfig struct {
	SearchPath   []string `yaml:"search_path"`
	AdminGroups  []string `yaml:"admin_groups"`
	HistoryLimit int      `yaml:"history_limit"`
}

// MigrationConfig controls healing of persisted state on upgrade.
type MigrationConfig struct {
	TemplateVersion int      `yaml:"template_version"`
	ForcedPaths     []string `yaml:"forced_paths"`
}

// MountConfig holds FUSE mount settings.
type MountConfig struct {
	MountPoint string `yaml:"mount_point"`
	User       string `yaml:"user"`
	AllowOther bool   `yaml:"allow_other"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:     "file",
			Path:        "/tmp/simfs/disk.snap",
			Debounce:    "750ms",
			BackupCount: 5,
		},
		Identity: IdentityConfig{
			LoginUser:     "user",
			RootPassword:  "root",
			UserPassword:  "user",
			GuestPassword: "guest",
		},
		Shell: ShellConfig{
			SearchPath:   []string{"/bin", "/usr/bin"},
			AdminGroups:  []string{"admin", "sudo", "wheel"},
			HistoryLimit: 500,
		},
		Migration: MigrationConfig{
			TemplateVersion: 3,
			ForcedPaths:     []string{"/etc/os-release"},
		},
		Mount: MountConfig{
			MountPoint: "/tmp/simfs/mnt",
			User:       "user",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// GetDebounce returns the persistence settle interval as a time.Duration.
func (c *StorageConfig) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Debounce)
	if err != nil || d < 0 {
		return 750 * time.Millisecond
	}
	return d
}
