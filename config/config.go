// Package config handles fabricctl's on-disk configuration: seed peer
// addresses, retry tuning, and where to persist the directory snapshot and
// audit log, stored at $XDG_CONFIG_HOME/fabricctl/config.yaml (falling back
// to ~/.config/fabricctl/config.yaml).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Retry mirrors clock.RetryPolicy with the same field types plus YAML keys;
// yaml.v3 writes and reads the durations as Go duration strings ("2ms").
type Retry struct {
	MaxAttempts int           `yaml:"max-attempts"`
	BaseDelay   time.Duration `yaml:"base-delay"`
	MaxDelay    time.Duration `yaml:"max-delay"`
}

// Config holds one manager's local settings.
type Config struct {
	// SeedPeers are router addresses of other managers to gossip with on
	// startup. In a single-process demo these are just indices the
	// scenario driver assigns.
	SeedPeers []uint64 `yaml:"seed-peers,omitempty"`

	Retry Retry `yaml:"retry"`

	// DirectorySnapshot is a buntdb file path, or ":memory:" to disable
	// persistence.
	DirectorySnapshot string `yaml:"directory-snapshot"`

	// AuditDSN selects the audit backend: "sqlite:<path>", "mysql:<dsn>",
	// or empty to disable auditing.
	AuditDSN string `yaml:"audit-dsn,omitempty"`

	// MetricsAddr is the host:port to serve /metrics on, or empty to
	// disable the Prometheus HTTP endpoint.
	MetricsAddr string `yaml:"metrics-addr,omitempty"`
}

// Default returns a Config with the same values fabricctl uses when no
// config file is present.
func Default() Config {
	return Config{
		Retry:             Retry{MaxAttempts: 8, BaseDelay: 2 * time.Millisecond, MaxDelay: time.Second},
		DirectorySnapshot: ":memory:",
	}
}

// Path returns the config file location.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "fabricctl", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fabricctl", "config.yaml")
}

// Load reads the config file, returning Default() if it doesn't exist.
func Load() (Config, error) {
	data, err := os.ReadFile(Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to disk, creating directories as needed.
func (c Config) Save() error {
	p := Path()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("config: create dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}
