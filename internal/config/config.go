// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting, with local-development defaults.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DB struct {
		Host     string `env:"DB_HOST" envDefault:"localhost"`
		Port     string `env:"DB_PORT" envDefault:"5432"`
		User     string `env:"DB_USER" envDefault:"postgres"`
		Password string `env:"DB_PASSWORD" envDefault:"postgres"`
		Name     string `env:"DB_NAME" envDefault:"crewcall"`
		SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	}

	// Commit protocol tuning.
	CommitMaxAttempts int           `env:"COMMIT_MAX_ATTEMPTS" envDefault:"8"`
	CommitBackoffBase time.Duration `env:"COMMIT_BACKOFF_BASE" envDefault:"10ms"`

	// Rate limiting on the respond route. RedisAddr switches the limiter
	// to a shared fixed-window store; empty keeps per-process buckets.
	RespondRateRPS   float64 `env:"RESPOND_RATE_RPS" envDefault:"20"`
	RespondRateBurst int     `env:"RESPOND_RATE_BURST" envDefault:"40"`
	RedisAddr        string  `env:"REDIS_ADDR"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN builds a libpq-compatible connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}
