package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultBPPURL, cfg.BPPURL)
	assert.Equal(t, DefaultBecknDomain, cfg.BecknDomain)
	assert.Equal(t, DefaultCallbackTimeout, cfg.CallbackTimeout)
	assert.Equal(t, DefaultLedgerPollEvery, cfg.LedgerPollEvery)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("BPP_URL", "http://localhost:8081")
	t.Setenv("CALLBACK_TIMEOUT_MS", "1000")
	t.Setenv("LEDGER_POLL_INTERVAL_MS", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "http://localhost:8081", cfg.BPPURL)
	assert.Equal(t, time.Second, cfg.CallbackTimeout)
	assert.Equal(t, 5*time.Second, cfg.LedgerPollEvery)
}

func TestLoad_BadDurationFallsBack(t *testing.T) {
	t.Setenv("CALLBACK_TIMEOUT_MS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultCallbackTimeout, cfg.CallbackTimeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		BPPURL:          "http://onix:8081",
		CallbackTimeout: time.Second,
		OutboundTimeout: time.Second,
		LedgerPollEvery: time.Second,
	}
	require.NoError(t, cfg.Validate())

	cfg.BPPURL = ""
	assert.Error(t, cfg.Validate())

	cfg.BPPURL = "http://onix:8081"
	cfg.CallbackTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestIsProduction(t *testing.T) {
	cfg := &Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	cfg.Env = "development"
	assert.False(t, cfg.IsProduction())
}
