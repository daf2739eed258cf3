package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top level application configuration loaded from YAML.
type Config struct {
	Flowbridge FlowbridgeConfig `yaml:"flowbridge"`
	Logging    LoggingConfig    `yaml:"logging"`
	Stream     StreamConfig     `yaml:"stream"`
	Connection Connection       `yaml:"connection"`
}

type FlowbridgeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// StreamConfig tunes the live market-data streams.
type StreamConfig struct {
	// Buffer is the capacity of each stream's event channel. A full channel
	// blocks the stream goroutine, which is the backpressure mechanism.
	Buffer int `yaml:"buffer"`
	// StaleAfterSecs is how long a book may go without updates before the
	// feed is considered degraded.
	StaleAfterSecs int `yaml:"stale_after_secs"`
	// Symbols lists the instruments to subscribe to on startup.
	Symbols []string `yaml:"symbols"`
}

// StaleAfter returns the staleness threshold as a duration.
func (s StreamConfig) StaleAfter() time.Duration {
	if s.StaleAfterSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.StaleAfterSecs) * time.Second
}

// Connection describes how to reach one exchange endpoint. The API secret is
// deliberately excluded from YAML and JSON so it can never end up in a
// persisted or serialized form; key and secret are taken from the
// API_KEY / API_SECRET environment variables.
type Connection struct {
	Exchange      string `yaml:"exchange"`
	Address       string `yaml:"address"`
	APIKey        string `yaml:"-" json:"-"`
	APISecret     string `yaml:"-" json:"-"`
	UseTLS        bool   `yaml:"use_tls"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	AutoReconnect bool   `yaml:"auto_reconnect"`
}

// Timeout returns the connection timeout as a duration, defaulting to 30s.
func (c Connection) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// URL builds the websocket endpoint from the address, the TLS flag and a
// dialect specific path suffix.
func (c Connection) URL(suffix string) string {
	scheme := "ws"
	if c.UseTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, c.Address, suffix)
}

// Validate checks the fields required to open a connection, in a fixed order:
// address first, then key, then secret. The first missing field decides the
// error.
func (c Connection) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("server address is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APISecret == "" {
		return fmt.Errorf("API secret is required")
	}
	return nil
}

// LoadConfig reads the YAML file at path and overlays credentials from the
// environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Stream:  StreamConfig{Buffer: 100, StaleAfterSecs: 30},
		Connection: Connection{
			Exchange:      "mt5",
			TimeoutSecs:   30,
			AutoReconnect: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("API_KEY"); v != "" {
		config.Connection.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("API_SECRET"); v != "" {
		config.Connection.APISecret = strings.TrimSpace(v)
	}

	if config.Stream.Buffer <= 0 {
		config.Stream.Buffer = 100
	}

	return &config, nil
}
