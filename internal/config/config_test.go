package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, DefaultFaucetURL, cfg.FaucetURL)
	assert.Equal(t, DefaultExplorerURL, cfg.ExplorerURL)
	assert.Equal(t, DefaultNetwork, cfg.Network)
	assert.True(t, cfg.CashbackRate.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, "reject", cfg.SignPolicy)
	assert.Equal(t, 60*time.Second, cfg.WaitTimeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 6.0, cfg.FaucetRatePerMinute)
	assert.Equal(t, 200, cfg.FeedPageLimit)
	assert.Equal(t, 50, cfg.FeedMaxPages)
	assert.Equal(t, 30*time.Second, cfg.ReceiptCacheTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"PORT":                "9000",
		"XRPL_EXPLORER_URL":   "https://livenet.xrpl.org/",
		"CASHBACK_XRP_RATE":   "0.025",
		"SETTLE_SIGN_POLICY":  "Normalize",
		"LEDGER_WAIT_TIMEOUT": "15s",
		"FEED_PAGE_LIMIT":     "50",
		"LOG_LEVEL":           "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "https://livenet.xrpl.org", cfg.ExplorerURL)
	assert.True(t, cfg.CashbackRate.Equal(decimal.RequireFromString("0.025")))
	assert.Equal(t, "normalize", cfg.SignPolicy)
	assert.Equal(t, 15*time.Second, cfg.WaitTimeout)
	assert.Equal(t, 50, cfg.FeedPageLimit)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_ReportsEveryBadValue(t *testing.T) {
	_, err := load(env(map[string]string{
		"CASHBACK_XRP_RATE":   "-1",
		"SETTLE_SIGN_POLICY":  "ignore",
		"LEDGER_WAIT_TIMEOUT": "soon",
		"FEED_MAX_PAGES":      "x",
	}))
	require.Error(t, err)
	for _, key := range []string{"CASHBACK_XRP_RATE", "SETTLE_SIGN_POLICY", "LEDGER_WAIT_TIMEOUT", "FEED_MAX_PAGES"} {
		assert.Contains(t, err.Error(), key)
	}
}
