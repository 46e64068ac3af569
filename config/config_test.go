package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefaultHasSaneRetry(t *testing.T) {
	cfg := Default()
	if cfg.Retry.MaxAttempts <= 0 {
		t.Fatalf("expected positive MaxAttempts, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.DirectorySnapshot != ":memory:" {
		t.Fatalf("expected in-memory default snapshot, got %q", cfg.DirectorySnapshot)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected Default() for missing config, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	want := Config{
		SeedPeers:         []uint64{1, 2, 3},
		Retry:             Retry{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond},
		DirectorySnapshot: filepath.Join(t.TempDir(), "dir.db"),
		AuditDSN:          "sqlite:/tmp/audit.db",
		MetricsAddr:       ":9090",
	}
	if err := want.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestPathRespectsXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got := Path()
	want := filepath.Join(dir, "fabricctl", "config.yaml")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
