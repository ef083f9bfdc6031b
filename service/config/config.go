package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Webhook authentication. Each event source signs the raw request body
	// with its own shared secret.
	ChainWebhookSecret   string
	TradingWebhookSecret string

	// On-chain addresses
	TreasuryAddress      string
	MarketplaceProgramID string

	// Escrow royalty classification
	EscrowRoyaltyBps    int64
	RoyaltyToleranceBps int64

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Webhook secrets
	cfg.ChainWebhookSecret = os.Getenv("CHAIN_WEBHOOK_SECRET")
	if cfg.ChainWebhookSecret == "" {
		errs = append(errs, fmt.Errorf("CHAIN_WEBHOOK_SECRET is required"))
	}

	cfg.TradingWebhookSecret = os.Getenv("TRADING_WEBHOOK_SECRET")
	if cfg.TradingWebhookSecret == "" {
		errs = append(errs, fmt.Errorf("TRADING_WEBHOOK_SECRET is required"))
	}

	// The two sources are independent senders; sharing a secret would let one
	// impersonate the other.
	if cfg.ChainWebhookSecret != "" && cfg.ChainWebhookSecret == cfg.TradingWebhookSecret {
		errs = append(errs, fmt.Errorf("CHAIN_WEBHOOK_SECRET and TRADING_WEBHOOK_SECRET must be different"))
	}

	// Treasury address
	cfg.TreasuryAddress = os.Getenv("TREASURY_ADDRESS")
	if cfg.TreasuryAddress == "" {
		errs = append(errs, fmt.Errorf("TREASURY_ADDRESS is required"))
	} else if _, err := solanago.PublicKeyFromBase58(cfg.TreasuryAddress); err != nil {
		errs = append(errs, fmt.Errorf("TREASURY_ADDRESS: invalid base58 public key %q: %w", cfg.TreasuryAddress, err))
	}

	// Marketplace program address
	cfg.MarketplaceProgramID = os.Getenv("MARKETPLACE_PROGRAM_ID")
	if cfg.MarketplaceProgramID == "" {
		errs = append(errs, fmt.Errorf("MARKETPLACE_PROGRAM_ID is required"))
	} else if _, err := solanago.PublicKeyFromBase58(cfg.MarketplaceProgramID); err != nil {
		errs = append(errs, fmt.Errorf("MARKETPLACE_PROGRAM_ID: invalid base58 public key %q: %w", cfg.MarketplaceProgramID, err))
	}

	// Royalty classification
	royaltyBps, err := parseInt64("ESCROW_ROYALTY_BPS", 250)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EscrowRoyaltyBps = royaltyBps
	}

	toleranceBps, err := parseInt64("ROYALTY_TOLERANCE_BPS", 100)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RoyaltyToleranceBps = toleranceBps
	}

	if cfg.EscrowRoyaltyBps <= 0 || cfg.EscrowRoyaltyBps > 10000 {
		errs = append(errs, fmt.Errorf("ESCROW_ROYALTY_BPS must be between 1 and 10000, got %d", cfg.EscrowRoyaltyBps))
	}
	if cfg.RoyaltyToleranceBps < 0 || cfg.RoyaltyToleranceBps > 10000 {
		errs = append(errs, fmt.Errorf("ROYALTY_TOLERANCE_BPS must be between 0 and 10000, got %d", cfg.RoyaltyToleranceBps))
	}

	// HTTP timeouts
	readTimeout, err := parseDuration("HTTP_READ_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReadTimeout = readTimeout
	}

	writeTimeout, err := parseDuration("HTTP_WRITE_TIMEOUT", "15s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.WriteTimeout = writeTimeout
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.ChainWebhookSecret == "" {
		errs = append(errs, fmt.Errorf("ChainWebhookSecret is required"))
	}

	if c.TradingWebhookSecret == "" {
		errs = append(errs, fmt.Errorf("TradingWebhookSecret is required"))
	}

	if c.ChainWebhookSecret != "" && c.ChainWebhookSecret == c.TradingWebhookSecret {
		errs = append(errs, fmt.Errorf("ChainWebhookSecret and TradingWebhookSecret must be different"))
	}

	if c.TreasuryAddress == "" {
		errs = append(errs, fmt.Errorf("TreasuryAddress is required"))
	}

	if c.MarketplaceProgramID == "" {
		errs = append(errs, fmt.Errorf("MarketplaceProgramID is required"))
	}

	if c.EscrowRoyaltyBps <= 0 || c.EscrowRoyaltyBps > 10000 {
		errs = append(errs, fmt.Errorf("EscrowRoyaltyBps must be between 1 and 10000"))
	}

	if c.RoyaltyToleranceBps < 0 || c.RoyaltyToleranceBps > 10000 {
		errs = append(errs, fmt.Errorf("RoyaltyToleranceBps must be between 0 and 10000"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt64 parses an integer from an environment variable or uses a default.
func parseInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
