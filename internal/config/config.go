package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the runtime configuration.
// Environment variables are parsed from the LRE_ prefix,
// e.g. LRE_SECRET_KEY, LRE_HTTP_PORT.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP / transport
	HTTPPort   int  `envconfig:"HTTP_PORT" default:"8080"`
	RequireWSS bool `envconfig:"REQUIRE_WSS" default:"false"`

	// Auth
	SecretKey          string `envconfig:"SECRET_KEY" default:""`
	TokenExpiryMinutes int    `envconfig:"TOKEN_EXPIRY_MINUTES" default:"60"`
	BcryptCost         int    `envconfig:"BCRYPT_COST" default:"12"`
	LockoutThreshold   int    `envconfig:"LOCKOUT_THRESHOLD" default:"5"`
	LockoutMinutes     int    `envconfig:"LOCKOUT_MINUTES" default:"5"`

	// Storage
	StorePath string `envconfig:"STORE_PATH" default:"data/lre.db"`

	// Protocol
	MaxPayloadBytes int `envconfig:"MAX_PAYLOAD_BYTES" default:"1048576"`

	// Pipeline
	ExecTimeoutSeconds     int `envconfig:"EXEC_TIMEOUT_SECONDS" default:"30"`
	PresenceWindowSeconds  int `envconfig:"PRESENCE_WINDOW_SECONDS" default:"30"`
	WriteRetryQueueSize    int `envconfig:"WRITE_RETRY_QUEUE_SIZE" default:"256"`
	WriteRetryBaseMillis   int `envconfig:"WRITE_RETRY_BASE_MILLIS" default:"250"`
	WriteRetryMaxAttempts  int `envconfig:"WRITE_RETRY_MAX_ATTEMPTS" default:"5"`
	BusDeliveryBufferSlots int `envconfig:"BUS_DELIVERY_BUFFER_SLOTS" default:"64"`
}

// devSecretKey is accepted outside production so a bare checkout can start.
const devSecretKey = "dev-only-insecure-key-change-in-prod!!!!"

// Validate enforces the startup-fatal constraints. A short signing secret is
// the one misconfiguration that must prevent the runtime from accepting any
// connection at all.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		if c.Environment == EnvProduction {
			return fmt.Errorf("LRE_SECRET_KEY must be set in production")
		}
		c.SecretKey = devSecretKey
		log.Warn().Msg("using development secret key; never use this in production")
	}
	if len(c.SecretKey) < 32 {
		return fmt.Errorf("LRE_SECRET_KEY must be at least 32 bytes, got %d", len(c.SecretKey))
	}
	if c.BcryptCost < 10 {
		return fmt.Errorf("LRE_BCRYPT_COST must be at least 10, got %d", c.BcryptCost)
	}
	if c.TokenExpiryMinutes <= 0 {
		return fmt.Errorf("LRE_TOKEN_EXPIRY_MINUTES must be positive, got %d", c.TokenExpiryMinutes)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("LRE_MAX_PAYLOAD_BYTES must be positive, got %d", c.MaxPayloadBytes)
	}
	return nil
}

// New creates a Config by parsing LRE_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LRE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("http_port", cfg.HTTPPort).
		Bool("require_wss", cfg.RequireWSS).
		Str("store_path", cfg.StorePath).
		Int("token_expiry_minutes", cfg.TokenExpiryMinutes).
		Int("bcrypt_cost", cfg.BcryptCost).
		Int("max_payload_bytes", cfg.MaxPayloadBytes).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns a config suitable for unit tests: in-memory store,
// short timeouts, a fixed test secret.
func NewForTesting() *Config {
	return &Config{
		Environment:            EnvTesting,
		HTTPPort:               8080,
		SecretKey:              "test-secret-key-0123456789abcdef0123456789",
		TokenExpiryMinutes:     60,
		BcryptCost:             10,
		LockoutThreshold:       5,
		LockoutMinutes:         5,
		StorePath:              ":memory:",
		MaxPayloadBytes:        1 << 20,
		ExecTimeoutSeconds:     2,
		PresenceWindowSeconds:  30,
		WriteRetryQueueSize:    16,
		WriteRetryBaseMillis:   10,
		WriteRetryMaxAttempts:  3,
		BusDeliveryBufferSlots: 16,
	}
}

// IsTesting reports whether the environment is set to testing.
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction reports whether the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// HTTPAddr returns the listen address for the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
