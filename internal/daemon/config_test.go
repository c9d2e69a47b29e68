package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setTestHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CLIPSCAPE_HOME", dir)
	return dir
}

func TestDefaultConfig(t *testing.T) {
	setTestHome(t)
	cfg := DefaultConfig()

	if cfg.Network.SignalingPort != 9999 {
		t.Errorf("signaling port = %d, want 9999", cfg.Network.SignalingPort)
	}
	if cfg.Network.DiscoveryPort != 9998 {
		t.Errorf("discovery port = %d, want 9998", cfg.Network.DiscoveryPort)
	}
	if cfg.Sync.PollInterval != "250ms" {
		t.Errorf("poll interval = %q, want 250ms", cfg.Sync.PollInterval)
	}
	if cfg.Node.Name == "" {
		t.Error("default device name is empty")
	}
}

func TestLoadConfig_GeneratesDeviceID(t *testing.T) {
	dir := setTestHome(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Node.ID == "" {
		t.Fatal("device ID was not generated")
	}

	// The generated ID is persisted and stable across loads.
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("config.toml not written: %v", err)
	}
	again, err := LoadConfig()
	if err != nil {
		t.Fatalf("second LoadConfig() error: %v", err)
	}
	if again.Node.ID != cfg.Node.ID {
		t.Errorf("device ID changed across loads: %q then %q", cfg.Node.ID, again.Node.ID)
	}
}

func TestLoadConfig_RoundTrip(t *testing.T) {
	setTestHome(t)

	cfg := DefaultConfig()
	cfg.Node.ID = "dev-fixed"
	cfg.Node.Name = "saved-name"
	cfg.Network.SignalingPort = 4242
	cfg.Sync.Headless = true
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if loaded.Node.ID != "dev-fixed" {
		t.Errorf("node id = %q", loaded.Node.ID)
	}
	if loaded.Node.Name != "saved-name" {
		t.Errorf("node name = %q", loaded.Node.Name)
	}
	if loaded.Network.SignalingPort != 4242 {
		t.Errorf("signaling port = %d", loaded.Network.SignalingPort)
	}
	if !loaded.Sync.Headless {
		t.Error("headless flag not round-tripped")
	}
}

func TestParseDuration(t *testing.T) {
	if got := parseDuration("2s", time.Second); got != 2*time.Second {
		t.Errorf("parseDuration(2s) = %v", got)
	}
	if got := parseDuration("", 3*time.Second); got != 3*time.Second {
		t.Errorf("empty string fallback = %v", got)
	}
	if got := parseDuration("junk", 4*time.Second); got != 4*time.Second {
		t.Errorf("junk fallback = %v", got)
	}
}

func TestNewDeviceID(t *testing.T) {
	a, b := NewDeviceID(), NewDeviceID()
	if a == b {
		t.Errorf("device IDs collide: %q", a)
	}
	if len(a) != len("dev-")+8 {
		t.Errorf("device ID %q has unexpected shape", a)
	}
}
