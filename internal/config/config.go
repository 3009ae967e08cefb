// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the sync client.
//
// Authentication is configuration, not protocol: the transport attaches
// AuthToken as a bearer token to every request, and nothing else in the
// engine knows about it.
type Config struct {
	// Server
	ServerURL string `env:"SYNC_SERVER_URL" envDefault:"http://localhost:5000"`
	AuthToken string `env:"SYNC_AUTH_TOKEN,required"`

	// Local store
	DataDir string `env:"SYNC_DATA_DIR" envDefault:"./data"`

	// Sync policy
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"5m"`
	SettleDelay  time.Duration `env:"SYNC_SETTLE_DELAY" envDefault:"5s"`
	ProbeEvery   time.Duration `env:"SYNC_PROBE_INTERVAL" envDefault:"15s"`
	MaxAttempts  int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"5"`
	BaseDelay    time.Duration `env:"SYNC_BASE_DELAY" envDefault:"2s"`
	HTTPTimeout  time.Duration `env:"SYNC_HTTP_TIMEOUT" envDefault:"30s"`

	// Retention cleanup for already-synced records
	Retention time.Duration `env:"SYNC_RETENTION" envDefault:"720h"` // 30 days

	// Logging
	LogLevel string `env:"SYNC_LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"SYNC_LOG_FILE" envDefault:""`
}

// Load reads configuration from a .env file (if present) and the
// environment, applying defaults.
func Load() (*Config, error) {
	// .env is a local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("SYNC_BASE_DELAY must be positive, got %s", c.BaseDelay)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}
	return nil
}
