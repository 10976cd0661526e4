// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every tunable the server reads at startup. An empty
// DatabaseURL selects the in-memory store (development mode).
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS" envDefault:"0.0.0.0:8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	// AdminSecretHash is the bcrypt hash of the master secret. When only
	// AdminSecret is set, it is hashed at startup; the hash wins when both
	// are present.
	AdminSecret     string `env:"ADMIN_SECRET"`
	AdminSecretHash string `env:"ADMIN_SECRET_HASH"`
	JWTSecret       string `env:"JWT_SECRET" envDefault:"dev-only-signing-key"`

	CoinCap       int           `env:"COIN_CAP" envDefault:"20"`
	ExchangeCost  int           `env:"EXCHANGE_COST" envDefault:"30"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"30m"`
}

// ErrNoAdminSecret is returned when neither secret variable is set.
var ErrNoAdminSecret = errors.New("ADMIN_SECRET or ADMIN_SECRET_HASH must be set")

// Parse reads the configuration from environment variables.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CoinCap <= 0 {
		return nil, fmt.Errorf("COIN_CAP must be positive, got %d", cfg.CoinCap)
	}
	if cfg.ExchangeCost <= 0 {
		return nil, fmt.Errorf("EXCHANGE_COST must be positive, got %d", cfg.ExchangeCost)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", cfg.SweepInterval)
	}
	return cfg, nil
}

// SecretHash resolves the admin secret configuration to a bcrypt hash.
func (c *Config) SecretHash() ([]byte, error) {
	if c.AdminSecretHash != "" {
		return []byte(c.AdminSecretHash), nil
	}
	if c.AdminSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.AdminSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin secret: %w", err)
		}
		return hash, nil
	}
	return nil, ErrNoAdminSecret
}
