// Package config reads the gateway's environment once at startup.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Defaults for the XRPL test network.
const (
	DefaultRPCURL      = "https://s.altnet.rippletest.net:51234"
	DefaultFaucetURL   = "https://faucet.altnet.rippletest.net/accounts"
	DefaultExplorerURL = "https://testnet.xrpl.org"
	DefaultNetwork     = "Testnet"
)

// Config is the process configuration.
type Config struct {
	Port string

	RPCURL      string
	FaucetURL   string
	ExplorerURL string
	Network     string

	// CashbackRate converts one application currency unit into XRP.
	CashbackRate decimal.Decimal
	SignPolicy   string

	WaitTimeout         time.Duration
	PollInterval        time.Duration
	FaucetRatePerMinute float64
	FeedPageLimit       int
	FeedMaxPages        int

	DatabaseURL     string
	RedisURL        string
	ReceiptCacheTTL time.Duration

	LogLevel slog.Level
}

// Load reads Config from the environment. Unset variables take their
// defaults; malformed ones are reported together.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Port:                p.str("PORT", "8080"),
		RPCURL:              p.str("XRPL_RPC_URL", DefaultRPCURL),
		FaucetURL:           p.str("XRPL_FAUCET_URL", DefaultFaucetURL),
		ExplorerURL:         strings.TrimRight(p.str("XRPL_EXPLORER_URL", DefaultExplorerURL), "/"),
		Network:             p.str("XRPL_NETWORK", DefaultNetwork),
		CashbackRate:        p.decimal("CASHBACK_XRP_RATE", "0.01"),
		SignPolicy:          strings.ToLower(p.str("SETTLE_SIGN_POLICY", "reject")),
		WaitTimeout:         p.duration("LEDGER_WAIT_TIMEOUT", 60*time.Second),
		PollInterval:        p.duration("LEDGER_POLL_INTERVAL", time.Second),
		FaucetRatePerMinute: p.float("FAUCET_RATE_PER_MINUTE", 6),
		FeedPageLimit:       p.int("FEED_PAGE_LIMIT", 200),
		FeedMaxPages:        p.int("FEED_MAX_PAGES", 50),
		DatabaseURL:         p.str("DATABASE_URL", ""),
		RedisURL:            p.str("REDIS_URL", ""),
		ReceiptCacheTTL:     p.duration("RECEIPT_CACHE_TTL", 30*time.Second),
		LogLevel:            p.level("LOG_LEVEL", slog.LevelInfo),
	}

	if !cfg.CashbackRate.IsPositive() {
		p.fail("CASHBACK_XRP_RATE", errors.New("must be positive"))
	}
	if cfg.SignPolicy != "reject" && cfg.SignPolicy != "normalize" {
		p.fail("SETTLE_SIGN_POLICY", fmt.Errorf("%q is not reject or normalize", cfg.SignPolicy))
	}
	if cfg.FeedPageLimit <= 0 {
		p.fail("FEED_PAGE_LIMIT", errors.New("must be positive"))
	}
	if cfg.FeedMaxPages <= 0 {
		p.fail("FEED_MAX_PAGES", errors.New("must be positive"))
	}
	if cfg.RedisURL != "" && cfg.DatabaseURL == "" {
		slog.Warn("REDIS_URL is ignored without DATABASE_URL")
	}
	return cfg, errors.Join(p.errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("config: %s: %w", key, err))
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) decimal(key, def string) decimal.Decimal {
	v := p.str(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, err)
		return decimal.RequireFromString(def)
	}
	return d
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, err)
		return def
	}
	return l
}
