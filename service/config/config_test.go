package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Valid base58 public keys (32 zero bytes).
var (
	testTreasury    = strings.Repeat("1", 32)
	testMarketplace = strings.Repeat("1", 31) + "2"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/luxledger")
	t.Setenv("CHAIN_WEBHOOK_SECRET", "chain-secret")
	t.Setenv("TRADING_WEBHOOK_SECRET", "trading-secret")
	t.Setenv("TREASURY_ADDRESS", testTreasury)
	t.Setenv("MARKETPLACE_PROGRAM_ID", testMarketplace)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, int64(250), cfg.EscrowRoyaltyBps)
	assert.Equal(t, int64(100), cfg.RoyaltyToleranceBps)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.WriteTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ESCROW_ROYALTY_BPS", "500")
	t.Setenv("ROYALTY_TOLERANCE_BPS", "50")
	t.Setenv("HTTP_READ_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(500), cfg.EscrowRoyaltyBps)
	assert.Equal(t, int64(50), cfg.RoyaltyToleranceBps)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		unset string
	}{
		{name: "database url", unset: "DATABASE_URL"},
		{name: "chain secret", unset: "CHAIN_WEBHOOK_SECRET"},
		{name: "trading secret", unset: "TRADING_WEBHOOK_SECRET"},
		{name: "treasury address", unset: "TREASURY_ADDRESS"},
		{name: "marketplace program", unset: "MARKETPLACE_PROGRAM_ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.unset)
		})
	}
}

func TestLoad_SharedSecretRejected(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_WEBHOOK_SECRET", "chain-secret")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestLoad_InvalidAddresses(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TREASURY_ADDRESS", "not-base58!!")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TREASURY_ADDRESS")
}

func TestLoad_InvalidRoyaltyBps(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "royalty zero", key: "ESCROW_ROYALTY_BPS", value: "0"},
		{name: "royalty above max", key: "ESCROW_ROYALTY_BPS", value: "10001"},
		{name: "royalty not a number", key: "ESCROW_ROYALTY_BPS", value: "abc"},
		{name: "tolerance negative", key: "ROYALTY_TOLERANCE_BPS", value: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		DatabaseURL:          "postgres://localhost/db",
		ChainWebhookSecret:   "a",
		TradingWebhookSecret: "b",
		TreasuryAddress:      testTreasury,
		MarketplaceProgramID: testMarketplace,
		EscrowRoyaltyBps:     250,
		RoyaltyToleranceBps:  100,
	}
	assert.NoError(t, cfg.Validate())

	cfg.TradingWebhookSecret = "a"
	assert.Error(t, cfg.Validate())
}
