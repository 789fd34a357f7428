// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Process settings
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string

	// Payment gateway (Stripe-compatible)
	StripeSecretKey   string `json:"-"` // excluded from serialization
	StripeWebhookSecret string `json:"-"`
	PlatformFeeBps    int64 // platform commission, basis points
	InstantPayoutFeeBps int64 // additional fee for instant payouts, basis points

	// Security
	AdminSecret       string // admin API secret

	// Observability
	OTLPEndpoint string // OpenTelemetry collector endpoint, empty = disabled

	// Database pool settings
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	DBConnectTimeout   int // seconds, appended to Postgres DSN
	DBStatementTimeout int // milliseconds, appended to Postgres DSN

	// Background job tuning
	ReconciliationInterval time.Duration
	WebhookRecoveryPollInterval time.Duration
}

const (
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultPlatformFeeBps       = 1000 // 10%
	DefaultInstantPayoutFeeBps  = 150  // 1.5%

	DefaultDBMaxOpenConns     = 25
	DefaultDBMaxIdleConns     = 5
	DefaultDBConnMaxLifetime  = 5 * time.Minute
	DefaultDBConnMaxIdleTime  = 3 * time.Minute
	DefaultDBConnectTimeout   = 5     // seconds
	DefaultDBStatementTimeout = 30000 // milliseconds (30s)

	DefaultReconciliationInterval       = 5 * time.Minute
	DefaultWebhookRecoveryPollInterval  = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PlatformFeeBps:       getEnvInt64("PLATFORM_FEE_BPS", DefaultPlatformFeeBps),
		InstantPayoutFeeBps:  getEnvInt64("INSTANT_PAYOUT_FEE_BPS", DefaultInstantPayoutFeeBps),

		AdminSecret:       os.Getenv("ADMIN_SECRET"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		DBMaxOpenConns:     int(getEnvInt64("POSTGRES_MAX_OPEN_CONNS", int64(DefaultDBMaxOpenConns))),
		DBMaxIdleConns:     int(getEnvInt64("POSTGRES_MAX_IDLE_CONNS", int64(DefaultDBMaxIdleConns))),
		DBConnMaxLifetime:  getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", DefaultDBConnMaxLifetime),
		DBConnMaxIdleTime:  getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", DefaultDBConnMaxIdleTime),
		DBConnectTimeout:   int(getEnvInt64("POSTGRES_CONNECT_TIMEOUT", int64(DefaultDBConnectTimeout))),
		DBStatementTimeout: int(getEnvInt64("POSTGRES_STATEMENT_TIMEOUT", int64(DefaultDBStatementTimeout))),

		ReconciliationInterval:      getEnvDuration("RECONCILIATION_INTERVAL", DefaultReconciliationInterval),
		WebhookRecoveryPollInterval: getEnvDuration("WEBHOOK_RECOVERY_POLL_INTERVAL", DefaultWebhookRecoveryPollInterval),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and sane.
func (c *Config) Validate() error {
	if c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}

	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be between 0 and 10000, got %d", c.PlatformFeeBps)
	}

	if c.InstantPayoutFeeBps < 0 || c.InstantPayoutFeeBps > 10000 {
		return fmt.Errorf("INSTANT_PAYOUT_FEE_BPS must be between 0 and 10000, got %d", c.InstantPayoutFeeBps)
	}

	if c.DBStatementTimeout < 1000 {
		return fmt.Errorf("POSTGRES_STATEMENT_TIMEOUT must be at least 1000ms, got %d", c.DBStatementTimeout)
	}

	if c.IsProduction() && c.AdminSecret == "" {
		slog.Warn("ADMIN_SECRET not set — admin operations accept any authenticated caller")
	}
	if c.IsProduction() && c.StripeWebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET not set — inbound gateway events cannot be verified")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
