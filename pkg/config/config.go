package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string
	DBMinConns  int32
	DBMaxConns  int32

	// Redis configuration — backs the optional idempotency advisory lock,
	// never the ledger's correctness.
	RedisURL      string
	RedisPassword string
	RedisEnabled  bool

	// JWT configuration
	JWTSecret string

	// Retry policy for the Concurrency Coordinator
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration

	// LedgerUnitScale is the number of ledger minor units ("units") per
	// major currency unit (e.g. 100 for cents-per-dollar). The core only
	// ever moves int64 minor units and never divides by this; it exists
	// for clients/docs that need to format an amount in major units.
	LedgerUnitScale int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DBMinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 10)),
		DBMaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 100)),
		RedisURL:            getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisEnabled:        getEnvAsBool("REDIS_ENABLED", true),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		RetryMaxAttempts:    getEnvAsInt("RETRY_MAX_ATTEMPTS", 10),
		RetryInitialBackoff: time.Duration(getEnvAsInt("RETRY_INITIAL_BACKOFF_MS", 10)) * time.Millisecond,
		LedgerUnitScale:     int64(getEnvAsInt("LEDGER_UNIT_SCALE", 100)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative")
	}

	if c.LedgerUnitScale <= 0 {
		return fmt.Errorf("LEDGER_UNIT_SCALE must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
