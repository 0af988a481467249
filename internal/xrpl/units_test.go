package xrpl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXRPToDrops(t *testing.T) {
	cases := map[string]int64{
		"0.5":       500_000,
		"1":         1_000_000,
		"0.0000019": 1, // truncated
		"0":         0,
	}
	for in, want := range cases {
		got, err := XRPToDrops(decimal.RequireFromString(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := XRPToDrops(decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, ErrAmountRange)
	_, err = XRPToDrops(decimal.NewFromInt(100_000_000_001))
	assert.ErrorIs(t, err, ErrAmountRange)
}

func TestDropsToXRP(t *testing.T) {
	assert.True(t, DropsToXRP(500_000).Equal(decimal.RequireFromString("0.5")))
}

func TestRippleTime(t *testing.T) {
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), RippleTimeToTime(0))
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, ts, RippleTimeToTime(TimeToRippleTime(ts)))
}
