// Package config handles configuration parsing for fieldterm.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldterm/fieldterm/internal/ports"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/fieldterm/config.yaml or ~/.config/fieldterm/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "fieldterm", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Connections []ConnectionConfig `yaml:"connections"`
	Terminal    TerminalConfig     `yaml:"terminal"`
	Security    SecurityConfig     `yaml:"security"`
	Logging     LoggingConfig      `yaml:"logging"`
	Upload      UploadConfig       `yaml:"upload"`
}

// ConnectionConfig defines one named remote endpoint.
type ConnectionConfig struct {
	Name      string     `yaml:"name"`
	Transport string     `yaml:"transport"` // "ssh", "websocket" or "local"
	Host      string     `yaml:"host"`
	Port      int        `yaml:"port"`
	User      string     `yaml:"user"`
	URL       string     `yaml:"url"` // websocket endpoint, ws:// or wss://
	Auth      AuthConfig `yaml:"auth"`

	// ExpectFramed declares whether the endpoint runs the session
	// multiplexer. False pins attached streams to raw mode.
	ExpectFramed bool `yaml:"expect_framed"`
}

// AuthConfig defines authentication settings for a connection.
type AuthConfig struct {
	Type          string `yaml:"type"`           // "key" or "password"
	Path          string `yaml:"path"`           // path to key file
	PassphraseEnv string `yaml:"passphrase_env"` // env var containing key passphrase
	PasswordEnv   string `yaml:"password_env"`   // env var containing SSH password
}

// TerminalConfig tunes the session engine.
type TerminalConfig struct {
	ScrollbackRingBytes int           `yaml:"scrollback_ring_bytes"` // in-memory recent-output buffer size
	ScrollbackPageBytes uint32        `yaml:"scrollback_page_bytes"` // history page request size
	IdleThreshold       time.Duration `yaml:"idle_threshold"`        // raw-mode output-silence threshold
	KeepaliveInterval   time.Duration `yaml:"keepalive_interval"`    // ssh keepalive period, 0 disables
}

// SecurityConfig defines security settings.
type SecurityConfig struct {
	UseKeyring bool `yaml:"use_keyring"` // cache credentials in the OS keyring
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
	File     string `yaml:"file"`     // log file path; empty logs to stderr
}

// UploadConfig defines file upload settings.
type UploadConfig struct {
	ConcurrentTransfers int `yaml:"concurrent_transfers"` // parallel SFTP uploads per glob
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Terminal: TerminalConfig{
			ScrollbackRingBytes: 50 * 1024,
			ScrollbackPageBytes: 16 * 1024,
			IdleThreshold:       1500 * time.Millisecond,
			KeepaliveInterval:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Upload: UploadConfig{
			ConcurrentTransfers: 2,
		},
	}
}

// Load loads configuration from a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist yet; run with defaults.
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration, filling in unusable values.
func (c *Config) Validate() error {
	if c.Terminal.ScrollbackRingBytes <= 0 {
		c.Terminal.ScrollbackRingBytes = 50 * 1024
	}
	if c.Terminal.ScrollbackPageBytes == 0 {
		c.Terminal.ScrollbackPageBytes = 16 * 1024
	}
	if c.Terminal.IdleThreshold <= 0 {
		c.Terminal.IdleThreshold = 1500 * time.Millisecond
	}
	if c.Upload.ConcurrentTransfers <= 0 {
		c.Upload.ConcurrentTransfers = 2
	}

	seen := make(map[string]bool, len(c.Connections))
	for _, conn := range c.Connections {
		if conn.Name == "" {
			return fmt.Errorf("connection with empty name")
		}
		if seen[conn.Name] {
			return fmt.Errorf("duplicate connection name %q", conn.Name)
		}
		seen[conn.Name] = true

		switch conn.Transport {
		case "ssh":
			if conn.Host == "" {
				return fmt.Errorf("connection %q: ssh transport requires host", conn.Name)
			}
		case "websocket":
			if conn.URL == "" {
				return fmt.Errorf("connection %q: websocket transport requires url", conn.Name)
			}
		case "local":
		case "":
			return fmt.Errorf("connection %q: transport is required", conn.Name)
		default:
			return fmt.Errorf("connection %q: unknown transport %q", conn.Name, conn.Transport)
		}
	}

	return nil
}

// Connection looks up a connection by name.
func (c *Config) Connection(name string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.Name == name {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// AddConnection adds a connection to the configuration.
// Returns an error if a connection with the same name already exists.
func (c *Config) AddConnection(conn ConnectionConfig) error {
	for _, existing := range c.Connections {
		if existing.Name == conn.Name {
			return fmt.Errorf("connection %q already exists", conn.Name)
		}
	}
	c.Connections = append(c.Connections, conn)
	return nil
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
