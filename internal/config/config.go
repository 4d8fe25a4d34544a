// Package config loads the daemon's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root daemon configuration, mirroring the teacher's
// nested-struct-with-yaml-tags shape.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Security SecurityConfig `yaml:"security"`
	Database DatabaseConfig `yaml:"database"`
	Live     LiveConfig     `yaml:"live"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig configures the ZeroMQ bridge connection.
type GatewayConfig struct {
	EventURL string `yaml:"event_url"`
}

// SecurityConfig configures the master key and per-meter key overrides.
type SecurityConfig struct {
	MasterKey string            `yaml:"master_key,omitempty"`
	Keys      map[string]string `yaml:"keys,omitempty"` // identification -> hex key
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LiveConfig configures the WebSocket live-push client.
type LiveConfig struct {
	URL         string `yaml:"url,omitempty"`
	PropertyUID string `yaml:"property_uid,omitempty"`
	APIKey      string `yaml:"api_key,omitempty"`
}

// LoggingConfig configures the plain stdlib logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Gateway:  GatewayConfig{EventURL: "ipc:///tmp/mbus_gateway_event"},
		Database: DatabaseConfig{Path: "mbus.db"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads and parses a YAML config file at path, overlaying it onto
// Default() so a minimal config file is valid.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if cfg.Database.Path == "" {
		return cfg, fmt.Errorf("config: database.path must not be empty")
	}
	return cfg, nil
}
