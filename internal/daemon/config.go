// Package daemon manages the ClipScape daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Network   NetworkConfig   `toml:"network"`
	Sync      SyncConfig      `toml:"sync"`
	API       APIConfig       `toml:"api"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig identifies this device.
type NodeConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// NetworkConfig controls discovery and signaling.
type NetworkConfig struct {
	SignalingPort     int      `toml:"signaling_port"`
	DiscoveryPort     int      `toml:"discovery_port"`
	DiscoveryTimeout  string   `toml:"discovery_timeout"`
	DiscoveryInterval string   `toml:"discovery_interval"`
	ConnectTimeout    string   `toml:"connect_timeout"`
	STUNServers       []string `toml:"stun_servers"`
}

// SyncConfig controls the clipboard sync engine.
type SyncConfig struct {
	PollInterval string `toml:"poll_interval"`
	MarkerWindow string `toml:"marker_window"`
	MaxPayloadKB int    `toml:"max_payload_kb"`
	Headless     bool   `toml:"headless"`
}

// APIConfig controls the local HTTP status server.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// StorageConfig controls sync-history persistence.
type StorageConfig struct {
	Enabled        bool   `toml:"enabled"`
	Dir            string `toml:"dir"`
	MaxHistoryRows int    `toml:"max_history_rows"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := clipscapeHome()
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "clipscape-device"
	}
	return Config{
		Node: NodeConfig{
			Name: hostname,
		},
		Network: NetworkConfig{
			SignalingPort:     9999,
			DiscoveryPort:     9998,
			DiscoveryTimeout:  "2s",
			DiscoveryInterval: "30s",
			ConnectTimeout:    "10s",
			STUNServers:       []string{"stun:stun.l.google.com:19302"},
		},
		Sync: SyncConfig{
			PollInterval: "250ms",
			MaxPayloadKB: 1024,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7650,
		},
		Storage: StorageConfig{
			Enabled:        true,
			Dir:            homeDir,
			MaxHistoryRows: 10000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads config from ~/.clipscape/config.toml, falling back to
// defaults. A missing device ID is generated and written back so the node
// keeps a stable identity across restarts.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(clipscapeHome(), "config.toml")

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.Node.ID == "" {
		cfg.Node.ID = NewDeviceID()
		if err := SaveConfig(cfg); err != nil {
			return cfg, fmt.Errorf("persist device id: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.clipscape/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(clipscapeHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// NewDeviceID generates a fresh device identifier.
func NewDeviceID() string {
	return "dev-" + uuid.NewString()[:8]
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// clipscapeHome returns the ClipScape data directory.
func clipscapeHome() string {
	if env := os.Getenv("CLIPSCAPE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".clipscape")
}

// ClipscapeHome is exported for use by other packages.
func ClipscapeHome() string {
	return clipscapeHome()
}
