// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment settings
	StripeSecretKey string // enables real charge verification when set
	MinBookingTotal int64  // minor units
	MaxBookingTotal int64

	// Security
	WebhookSecret string
	RateLimitRPS  int

	// Bootstrap admin token, hashed on startup. Optional.
	AdminToken string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultMinBookingTotal = 500      // 5.00 in minor units
	DefaultMaxBookingTotal = 10000000 // 100,000.00
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		MinBookingTotal: getEnvInt64("MIN_BOOKING_TOTAL", DefaultMinBookingTotal),
		MaxBookingTotal: getEnvInt64("MAX_BOOKING_TOTAL", DefaultMaxBookingTotal),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.MinBookingTotal <= 0 {
		return fmt.Errorf("MIN_BOOKING_TOTAL must be positive")
	}
	if c.MaxBookingTotal < c.MinBookingTotal {
		return fmt.Errorf("MAX_BOOKING_TOTAL must be at least MIN_BOOKING_TOTAL")
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
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

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
