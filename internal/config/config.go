// Package config handles service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all sentinel configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string
	LogFmt   string // "json" or "text"

	// Upstream endpoints
	PolicyURL    string // policy service base URL (GET /config)
	ValidateURL  string // validation backend base URL (POST /validate)
	HeartbeatURL string // optional heartbeat sink

	// Caching
	RedisURL string // optional; persisted policy cache tier disabled if empty

	// Security
	SecretKey string // HMAC key for tokens and challenge signatures

	// FailOpen controls the degraded path when the validation backend is
	// unreachable. false (default) fails closed: the session is routed to at
	// least a soft mitigation and marked degraded. true evaluates rules on the
	// local score alone.
	FailOpen bool

	// Session registry
	SessionTTL time.Duration
}

const (
	DefaultPort       = "3000"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultLogFmt     = "json"
	DefaultSessionTTL = 30 * time.Minute
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFmt:       getEnv("LOG_FORMAT", DefaultLogFmt),
		PolicyURL:    os.Getenv("POLICY_URL"),
		ValidateURL:  os.Getenv("VALIDATE_URL"),
		HeartbeatURL: os.Getenv("HEARTBEAT_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		SecretKey:    os.Getenv("SENTINEL_SECRET"),
		FailOpen:     getEnvBool("FAIL_OPEN", false),
		SessionTTL:   getEnvDuration("SESSION_TTL", DefaultSessionTTL),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		if c.Env == "production" {
			return fmt.Errorf("SENTINEL_SECRET is required in production")
		}
		c.SecretKey = "dev-secret-change-in-production"
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
