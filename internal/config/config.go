// Package config holds the relay's runtime settings, loaded from an optional
// TOML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"parlor/internal/protocol"
)

type Config struct {
	// Port is the TCP port the relay listens on.
	Port int `toml:"port"`

	// WSAddr is the listen address of the WebSocket bridge.
	// Empty disables the bridge.
	WSAddr string `toml:"ws_addr"`

	// SinkBuffer is the per-session outbound queue depth.
	SinkBuffer int `toml:"sink_buffer"`

	// MaxLineBytes bounds a single wire line. Binary payloads arrive
	// base64-encoded, so this caps attachment size too.
	MaxLineBytes int `toml:"max_line_bytes"`

	// LastSeenTTL controls how long departed usernames stay in the
	// presence cache, e.g. "24h".
	LastSeenTTL string `toml:"last_seen_ttl"`

	Debug bool `toml:"debug"`

	lastSeenTTL time.Duration
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:         protocol.DefaultPort,
		SinkBuffer:   256,
		MaxLineBytes: 8 << 20,
		LastSeenTTL:  "24h",
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q is not readable: %w", path, err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if v, ok := os.LookupEnv("PARLOR_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PARLOR_PORT is not a number: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := os.LookupEnv("PARLOR_WS_ADDR"); ok {
		cfg.WSAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.SinkBuffer <= 0 {
		return fmt.Errorf("sink_buffer must be greater than 0")
	}
	if c.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be greater than 0")
	}

	ttl, err := time.ParseDuration(c.LastSeenTTL)
	if err != nil {
		return fmt.Errorf("last_seen_ttl: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("last_seen_ttl must be greater than 0")
	}
	c.lastSeenTTL = ttl

	return nil
}

// LastSeenDuration returns the parsed presence cache TTL.
// Validate must have succeeded first.
func (c *Config) LastSeenDuration() time.Duration {
	return c.lastSeenTTL
}
