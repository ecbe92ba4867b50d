// Package config loads the client's configuration from environment
// variables, with an optional .env file for local development.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server connection
	ServerURL     string        `env:"BATTLE_SERVER_URL" envDefault:"ws://localhost:8080/ws"`
	DialTimeout   time.Duration `env:"BATTLE_DIAL_TIMEOUT" envDefault:"10s"`
	MaxReconnects int           `env:"BATTLE_MAX_RECONNECTS" envDefault:"5"`

	// RoomID to join on startup; empty waits for a room assignment.
	RoomID string `env:"BATTLE_ROOM_ID"`

	// Request handling
	RequestTimeout time.Duration `env:"BATTLE_REQUEST_TIMEOUT" envDefault:"5s"`
	GraceDelay     time.Duration `env:"BATTLE_END_GRACE_DELAY" envDefault:"1500ms"`

	// Local debug surface
	DebugAddr string `env:"BATTLE_DEBUG_ADDR" envDefault:"127.0.0.1:9190"`

	// Battle history persistence; empty disables it
	HistoryPath string `env:"BATTLE_HISTORY_PATH" envDefault:"data/battles.db"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`
}

// Load reads the .env file if present, then parses the environment.
func Load() (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid BATTLE_SERVER_URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("BATTLE_SERVER_URL must be ws:// or wss://, got %q", u.Scheme)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("BATTLE_REQUEST_TIMEOUT must be positive")
	}
	if c.GraceDelay < 0 {
		return fmt.Errorf("BATTLE_END_GRACE_DELAY must be non-negative")
	}
	if c.MaxReconnects < 0 {
		return fmt.Errorf("BATTLE_MAX_RECONNECTS must be non-negative")
	}
	return nil
}
