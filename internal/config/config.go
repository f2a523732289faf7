// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. Components receive the values
// they need at construction; nothing reads the environment after Load.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Protocol network
	BPPURL      string // ONIX adapter base URL for outbound bap/caller requests
	BecknDomain string

	// Bridge timing
	CallbackTimeout time.Duration // how long a caller waits for the async callback
	OutboundTimeout time.Duration // per-request timeout talking to the ONIX adapter

	// Settlement
	LedgerURL         string // external trade ledger base URL
	LedgerPollEvery   time.Duration
	SettleCallbackURL string // downstream on_settle notification target (optional)

	// Notifications
	SMSProviderURL string // optional, SMS sends are skipped when empty

	// Event stream
	KafkaBrokers string // comma-separated, optional

	// Tracing
	OTLPEndpoint string // optional, tracing disabled when empty
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultBPPURL          = "http://onix-bap:8081"
	DefaultBecknDomain     = "beckn.one:deg:p2p-trading-interdiscom:2.0.0"
	DefaultCallbackTimeout = 30 * time.Second
	DefaultOutboundTimeout = 10 * time.Second
	DefaultLedgerPollEvery = 30 * time.Second
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		BPPURL:            getEnv("BPP_URL", DefaultBPPURL),
		BecknDomain:       getEnv("BECKN_DOMAIN", DefaultBecknDomain),
		CallbackTimeout:   getEnvDuration("CALLBACK_TIMEOUT_MS", DefaultCallbackTimeout),
		OutboundTimeout:   getEnvDuration("OUTBOUND_TIMEOUT_MS", DefaultOutboundTimeout),
		LedgerURL:         os.Getenv("LEDGER_URL"),
		LedgerPollEvery:   getEnvDuration("LEDGER_POLL_INTERVAL_MS", DefaultLedgerPollEvery),
		SettleCallbackURL: os.Getenv("SETTLE_CALLBACK_URL"),
		SMSProviderURL:    os.Getenv("SMS_PROVIDER_URL"),
		KafkaBrokers:      os.Getenv("KAFKA_BROKERS"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and well-formed.
func (c *Config) Validate() error {
	if c.BPPURL == "" {
		return fmt.Errorf("BPP_URL is required")
	}
	if _, err := url.Parse(c.BPPURL); err != nil {
		return fmt.Errorf("BPP_URL is not a valid URL: %w", err)
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("CALLBACK_TIMEOUT_MS must be positive")
	}
	if c.OutboundTimeout <= 0 {
		return fmt.Errorf("OUTBOUND_TIMEOUT_MS must be positive")
	}
	if c.LedgerPollEvery <= 0 {
		return fmt.Errorf("LEDGER_POLL_INTERVAL_MS must be positive")
	}
	return nil
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

// getEnvDuration reads a millisecond integer env var into a time.Duration.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
