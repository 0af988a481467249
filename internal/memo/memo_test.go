package memo

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/winback-gateway/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var ts = time.Date(2025, 6, 1, 12, 30, 45, 123000000, time.UTC)

func annotationOf(payload string) model.Annotation {
	return model.Annotation{
		Type:   typeTagHex,
		Format: formatHex,
		Data:   strings.ToUpper(hex.EncodeToString([]byte(payload))),
	}
}

func TestRoundTrip_Purchase(t *testing.T) {
	in := model.Purchase{
		UserID:     "42",
		PurchaseID: "p-1",
		ItemName:   "Headphones",
		ItemIcon:   "🎧",
		Amount:     d("129.99"),
		Timestamp:  ts,
		Status:     "unconfigured",
	}
	a, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(a)
	require.NoError(t, err)
	p, ok := out.(model.Purchase)
	require.True(t, ok, "got %T", out)

	assert.Equal(t, in.UserID, p.UserID)
	assert.Equal(t, in.PurchaseID, p.PurchaseID)
	assert.Equal(t, in.ItemName, p.ItemName)
	assert.Equal(t, in.ItemIcon, p.ItemIcon)
	assert.True(t, in.Amount.Equal(p.Amount))
	assert.True(t, in.Timestamp.Equal(p.Timestamp))
	assert.Equal(t, in.Status, p.Status)

	// Re-encoding the decoded event reproduces the annotation byte for byte.
	again, err := Encode(p)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestRoundTrip_AllKinds(t *testing.T) {
	events := []model.Event{
		model.PredictionConfig{
			UserID: "1", PositionID: "pos-1", PurchaseID: "p-1",
			MarketTicker: "KXBTC-25DEC31", MarketTitle: "BTC above 100k",
			Direction: model.DirectionYes, EntryPrice: d("42"),
			MaxRewardPct: d("50"), MaxLossPct: d("10"), TimeLimitDays: 3, Timestamp: ts,
		},
		model.PositionUpdate{
			UserID: "1", PositionID: "pos-1", MarketTicker: "KXBTC-25DEC31",
			CurrentPrice: d("55"), PnL: d("-3.25"), Timestamp: ts,
		},
		model.Settlement{
			UserID: "1", PositionID: "pos-1", MarketTicker: "KXBTC-25DEC31",
			Outcome: model.OutcomeLoss, EntryPrice: d("42"), FinalPrice: d("12"),
			Reason: "market_close", CashbackAmount: d("-30"), ROI: d("-0.3"), Timestamp: ts,
		},
		model.CashbackPayment{PositionID: "pos-1", AmountUSD: d("50"), AmountNative: d("0.5"), ROI: d("0.25")},
	}
	for _, in := range events {
		a, err := Encode(in)
		require.NoError(t, err)
		out, err := Decode(a)
		require.NoError(t, err, "%T", in)
		assert.Equal(t, in.Kind(), out.Kind())
		assert.Equal(t, in.Owner(), out.Owner())
		assert.True(t, in.OccurredAt().Equal(out.OccurredAt()))

		again, err := Encode(out)
		require.NoError(t, err)
		assert.Equal(t, a, again, "%T", in)
	}
}

func TestEncode_WireShape(t *testing.T) {
	a, err := Encode(model.CashbackPayment{PositionID: "pos-9", AmountUSD: d("50"), AmountNative: d("0.5"), ROI: d("0.1")})
	require.NoError(t, err)

	raw, err := hex.DecodeString(a.Data)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"CASHBACK_PAYMENT","v":1,"position_id":"pos-9","amount_usd":50,"amount_xrp":0.5,"roi":0.1}`,
		string(raw))

	typ, _ := hex.DecodeString(a.Type)
	format, _ := hex.DecodeString(a.Format)
	assert.Equal(t, "Winback_v1", string(typ))
	assert.Equal(t, "json", string(format))
}

func TestEncode_Deterministic(t *testing.T) {
	ev := model.Settlement{UserID: "3", PositionID: "x", Outcome: model.OutcomeWin, CashbackAmount: d("20"), Timestamp: ts}
	a, err := Encode(ev)
	require.NoError(t, err)
	b, err := Encode(ev)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecode_LegacyRecords(t *testing.T) {
	// Numeric user id, no version marker, zone-less timestamp.
	out, err := Decode(annotationOf(`{"type":"PURCHASE","user_id":7,"purchase_id":"p","item":"Mug","icon":"☕","amount":12.5,"timestamp":"2025-01-02T03:04:05.678901","status":"unconfigured"}`))
	require.NoError(t, err)
	p := out.(model.Purchase)
	assert.Equal(t, "7", p.UserID)
	assert.True(t, p.Amount.Equal(d("12.5")))
	assert.True(t, time.Date(2025, 1, 2, 3, 4, 5, 678901000, time.UTC).Equal(p.Timestamp))

	// Old spellings of the item and direction keys.
	out, err = Decode(annotationOf(`{"type":"PURCHASE","user_id":"8","item_name":"Hat","purchase_amount":"5"}`))
	require.NoError(t, err)
	assert.Equal(t, "Hat", out.(model.Purchase).ItemName)

	out, err = Decode(annotationOf(`{"type":"PREDICTION_CONFIG","user_id":"8","position_id":"q","prediction_direction":"no"}`))
	require.NoError(t, err)
	assert.Equal(t, model.DirectionNo, out.(model.PredictionConfig).Direction)

	// Memo type and format are optional.
	out, err = Decode(model.Annotation{Data: annotationOf(`{"type":"SETTLEMENT","user_id":"1","position_id":"z","outcome":"breakeven","cashback_amount":0}`).Data})
	require.NoError(t, err)
	assert.Equal(t, model.KindSettlement, out.Kind())
}

func TestDecode_NumericUserIDsAreCanonical(t *testing.T) {
	for _, id := range []string{"7", "7.0", "7.00", "7e0", "0.7e1"} {
		out, err := Decode(annotationOf(`{"type":"PURCHASE","user_id":` + id + `,"amount":1}`))
		require.NoError(t, err, id)
		assert.Equal(t, "7", out.Owner(), id)
	}

	_, err := Decode(annotationOf(`{"type":"PURCHASE","user_id":7.5,"amount":1}`))
	require.Error(t, err)
	assert.Equal(t, "json", Reason(err))
}

func TestDecode_UnparsableTimestampIsZero(t *testing.T) {
	out, err := Decode(annotationOf(`{"type":"PURCHASE","user_id":"1","amount":1,"timestamp":"Unknown"}`))
	require.NoError(t, err)
	assert.True(t, out.OccurredAt().IsZero())
}

func TestDecode_ForeignAndMalformed(t *testing.T) {
	foreignType := annotationOf(`{"type":"PURCHASE","user_id":"1","amount":1}`)
	foreignType.Type = strings.ToUpper(hex.EncodeToString([]byte("SomeOtherApp")))

	xmlFormat := annotationOf(`{}`)
	xmlFormat.Format = strings.ToUpper(hex.EncodeToString([]byte("xml")))

	cases := map[string]struct {
		a      model.Annotation
		reason string
	}{
		"empty":            {model.Annotation{}, "empty"},
		"foreign type":     {foreignType, "foreign"},
		"foreign format":   {xmlFormat, "format"},
		"not hex":          {model.Annotation{Data: "zz"}, "hex"},
		"not json":         {annotationOf("hello world"), "json"},
		"truncated json":   {annotationOf(`{"type":"PURCHASE",`), "json"},
		"json array":       {annotationOf(`[1,2,3]`), "json"},
		"unknown kind":     {annotationOf(`{"type":"REFUND","user_id":"1"}`), "kind"},
		"missing type":     {annotationOf(`{"user_id":"1"}`), "kind"},
		"future version":   {annotationOf(`{"type":"PURCHASE","v":2,"user_id":"1","amount":1}`), "version"},
		"missing user":     {annotationOf(`{"type":"PURCHASE","amount":1}`), "field"},
		"missing amount":   {annotationOf(`{"type":"PURCHASE","user_id":"1"}`), "field"},
		"bad outcome":      {annotationOf(`{"type":"SETTLEMENT","user_id":"1","position_id":"p","outcome":"draw","cashback_amount":0}`), "field"},
		"missing cashback": {annotationOf(`{"type":"SETTLEMENT","user_id":"1","position_id":"p","outcome":"win"}`), "field"},
		"payment no usd":   {annotationOf(`{"type":"CASHBACK_PAYMENT","position_id":"p"}`), "field"},
		"bad amount type":  {annotationOf(`{"type":"PURCHASE","user_id":"1","amount":{"x":1}}`), "json"},
		"bad user id":      {annotationOf(`{"type":"PURCHASE","user_id":true,"amount":1}`), "json"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			ev, err := Decode(c.a)
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, ErrDecode))
			assert.Equal(t, c.reason, Reason(err))
		})
	}
}

func TestEncode_RejectsNil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}
