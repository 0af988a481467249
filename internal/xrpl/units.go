package xrpl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DropsPerXRP is the number of drops in one XRP.
const DropsPerXRP = 1_000_000

// rippleEpoch is 2000-01-01T00:00:00Z in Unix seconds.
const rippleEpoch = 946684800

var dropsPerXRP = decimal.NewFromInt(DropsPerXRP)

// XRPToDrops converts an XRP amount to whole drops, truncating anything
// below one drop.
func XRPToDrops(xrp decimal.Decimal) (int64, error) {
	drops := xrp.Mul(dropsPerXRP).Truncate(0)
	if drops.IsNegative() || drops.GreaterThan(decimal.NewFromInt(maxDrops)) {
		return 0, fmt.Errorf("%w: %s XRP", ErrAmountRange, xrp)
	}
	return drops.IntPart(), nil
}

// DropsToXRP converts drops to XRP.
func DropsToXRP(drops int64) decimal.Decimal {
	return decimal.NewFromInt(drops).Div(dropsPerXRP)
}

// ParseDrops parses a drops amount as the ledger renders it in JSON.
func ParseDrops(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse drops %q: %w", s, err)
	}
	return n, nil
}

// RippleTimeToTime converts seconds since the ripple epoch to UTC time.
func RippleTimeToTime(secs int64) time.Time {
	return time.Unix(secs+rippleEpoch, 0).UTC()
}

// TimeToRippleTime converts t to seconds since the ripple epoch.
func TimeToRippleTime(t time.Time) int64 {
	return t.Unix() - rippleEpoch
}
