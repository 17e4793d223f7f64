// Package server provides configuration helpers that define runtime defaults,
// environment loading, and validation of security and persistence settings
// for the chat relay.
package server

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/store"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	RefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s"`
}

// Config holds the server configuration settings including security controls
// and the persistence backend.
type Config struct {
	Port           string   `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"512"`
	RateLimit      RateLimitConfig

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	StoreDSN    string `envconfig:"STORE_DSN" default:"chatrelay.db"`

	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	cfg := &Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		StoreDriver:     "sqlite",
		StoreDSN:        "chatrelay.db",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
	cfg.sanitize()
	return cfg
}

// LoadConfig reads configuration from a .env file when present and from the
// process environment, falling back to defaults for unset values.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using process environment")
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

// sanitize clamps zero or invalid values back to defaults and pre-computes
// the origin allow-list.
func (c *Config) sanitize() {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 512
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.StoreDriver == "" {
		c.StoreDriver = "sqlite"
	}

	c.AllowedOrigins, c.allowAllOrigins = normalizeOrigins(c.AllowedOrigins)
	c.allowedOrigins = make(map[string]struct{}, len(c.AllowedOrigins))
	for _, origin := range c.AllowedOrigins {
		c.allowedOrigins[origin] = struct{}{}
	}
}

// StoreConfig translates the persistence settings for the store package.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver: store.Driver(c.StoreDriver),
		DSN:    c.StoreDSN,
	}
}

// Level parses the configured log level, defaulting to info on bad input.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
