// Package market validates prediction market tickers and the prediction
// configurations users attach to purchases.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/model"
)

// tickerRegex matches an upper-case series followed by one or more
// segments, e.g. KXBTC-25MAR01-B90000 or INXD-25JAN10-T5925.99.
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]+)((?:-[A-Z0-9.]+)+)$`)

var (
	ErrInvalidTicker = errors.New("market: invalid ticker format")
	ErrInvalidConfig = errors.New("market: invalid prediction config")
)

// Ticker is a parsed market ticker.
type Ticker struct {
	Raw      string   `json:"ticker"`
	Series   string   `json:"series"`
	Segments []string `json:"segments"`
}

// ParseTicker parses and validates a market ticker.
// Format: SERIES-SEGMENT[-SEGMENT...]
func ParseTicker(ticker string) (*Ticker, error) {
	m := tickerRegex.FindStringSubmatch(ticker)
	if m == nil {
		return nil, fmt.Errorf("%w: %q (expected SERIES-SEGMENT[-SEGMENT...])", ErrInvalidTicker, ticker)
	}
	return &Ticker{
		Raw:      ticker,
		Series:   m[1],
		Segments: strings.Split(strings.TrimPrefix(m[2], "-"), "-"),
	}, nil
}

var (
	hundred     = decimal.NewFromInt(100)
	fiveHundred = decimal.NewFromInt(500)
	twoThousand = decimal.NewFromInt(2000)
	five        = decimal.NewFromInt(5)
	ten         = decimal.NewFromInt(10)
)

// HoldingWindow bounds how long a prediction may stay open. Larger
// purchases get shorter windows, and a tighter stop-loss shortens the
// window further. The result is never below one hour.
func HoldingWindow(purchaseAmount, maxLossPct decimal.Decimal) time.Duration {
	var base time.Duration
	switch {
	case purchaseAmount.LessThanOrEqual(hundred):
		base = 7 * 24 * time.Hour
	case purchaseAmount.LessThanOrEqual(fiveHundred):
		base = 3 * 24 * time.Hour
	case purchaseAmount.LessThanOrEqual(twoThousand):
		base = 24 * time.Hour
	default:
		base = 6 * time.Hour
	}

	loss := maxLossPct.Abs()
	switch {
	case loss.LessThanOrEqual(five):
		base = base * 6 / 10
	case loss.LessThanOrEqual(ten):
		base = base * 8 / 10
	}
	return max(base, time.Hour)
}

// MaxTimeLimitDays is the longest time limit, in whole days, allowed by
// HoldingWindow. Windows shorter than a day still allow one day, since
// that is the smallest limit a configuration can carry.
func MaxTimeLimitDays(purchaseAmount, maxLossPct decimal.Decimal) int {
	return max(1, int(HoldingWindow(purchaseAmount, maxLossPct)/(24*time.Hour)))
}

// ValidateConfig checks a prediction configuration. When purchaseAmount
// is valid the time limit is also bounded by the holding window.
func ValidateConfig(c model.PredictionConfig, purchaseAmount decimal.NullDecimal) error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidConfig)
	case c.PositionID == "":
		return fmt.Errorf("%w: position_id is required", ErrInvalidConfig)
	}
	if _, err := ParseTicker(c.MarketTicker); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Direction != model.DirectionYes && c.Direction != model.DirectionNo {
		return fmt.Errorf("%w: direction must be YES or NO, got %q", ErrInvalidConfig, c.Direction)
	}
	if !c.EntryPrice.IsPositive() || c.EntryPrice.GreaterThanOrEqual(hundred) {
		return fmt.Errorf("%w: entry_price must be between 0 and 100 cents, got %s", ErrInvalidConfig, c.EntryPrice)
	}
	if !c.MaxRewardPct.IsPositive() {
		return fmt.Errorf("%w: max_reward_pct must be positive", ErrInvalidConfig)
	}
	if !c.MaxLossPct.IsPositive() {
		return fmt.Errorf("%w: max_loss_pct must be positive", ErrInvalidConfig)
	}
	if c.TimeLimitDays < 1 {
		return fmt.Errorf("%w: time_limit_days must be at least 1", ErrInvalidConfig)
	}
	if purchaseAmount.Valid {
		if limit := MaxTimeLimitDays(purchaseAmount.Decimal, c.MaxLossPct); c.TimeLimitDays > limit {
			return fmt.Errorf("%w: time_limit_days %d exceeds the %d day holding window for a $%s purchase",
				ErrInvalidConfig, c.TimeLimitDays, limit, purchaseAmount.Decimal.StringFixed(2))
		}
	}
	return nil
}
