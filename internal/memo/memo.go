// Package memo encodes application events into ledger annotations and
// decodes them back. Annotations read from the ledger are untrusted: the
// network is shared, so foreign and malformed memos are expected and are
// reported as *DecodeError rather than treated as faults.
package memo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"

	"github.com/atmx/winback-gateway/internal/model"
)

const (
	// TypeTag is the MemoType every annotation carries.
	TypeTag = "Winback_v1"
	// Format is the MemoFormat every annotation carries.
	Format = "json"
	// Version is the payload schema version written by Encode.
	Version = 1
)

var (
	typeTagHex = strings.ToUpper(hex.EncodeToString([]byte(TypeTag)))
	formatHex  = strings.ToUpper(hex.EncodeToString([]byte(Format)))
)

// ErrDecode is matched by every decode failure.
var ErrDecode = errors.New("memo: undecodable annotation")

// DecodeError describes why an annotation was skipped. Reason is a short
// stable label suitable for metrics.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "memo: " + e.Reason
	}
	return fmt.Sprintf("memo: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// wireEvent is the JSON payload. Keys match records already on the ledger;
// the field set is the union over kinds.
type wireEvent struct {
	Type    string `json:"type"`
	Version int    `json:"v,omitempty"`
	UserID  userID `json:"user_id,omitempty"`

	PurchaseID string  `json:"purchase_id,omitempty"`
	Item       string  `json:"item,omitempty"`
	Icon       string  `json:"icon,omitempty"`
	Amount     *number `json:"amount,omitempty"`
	Status     string  `json:"status,omitempty"`

	PositionID    string  `json:"position_id,omitempty"`
	MarketTicker  string  `json:"market_ticker,omitempty"`
	MarketTitle   string  `json:"market_title,omitempty"`
	Direction     string  `json:"direction,omitempty"`
	EntryPrice    *number `json:"entry_price,omitempty"`
	MaxRewardPct  *number `json:"max_reward_pct,omitempty"`
	MaxLossPct    *number `json:"max_loss_pct,omitempty"`
	TimeLimitDays *int    `json:"time_limit_days,omitempty"`

	CurrentPrice *number `json:"current_price,omitempty"`
	PnL          *number `json:"pnl,omitempty"`

	Outcome          string  `json:"outcome,omitempty"`
	FinalPrice       *number `json:"final_price,omitempty"`
	SettlementReason string  `json:"settlement_reason,omitempty"`
	CashbackAmount   *number `json:"cashback_amount,omitempty"`
	ROI              *number `json:"roi,omitempty"`

	AmountUSD *number `json:"amount_usd,omitempty"`
	AmountXRP *number `json:"amount_xrp,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`

	// Spellings seen in older records; read, never written.
	ItemName            string  `json:"item_name,omitempty"`
	PurchaseAmount      *number `json:"purchase_amount,omitempty"`
	PredictionDirection string  `json:"prediction_direction,omitempty"`
}

// number is a decimal that travels as a bare JSON number. Quoted numbers
// are accepted on input.
type number decimal.Decimal

func (n number) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(n).String()), nil
}

func (n *number) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*n = number(d)
	return nil
}

func num(d decimal.Decimal) *number {
	n := number(d)
	return &n
}

func (n *number) value() decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	return decimal.Decimal(*n)
}

// userID accepts both the numeric ids older records carry and strings.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*u = ""
		return nil
	case strings.HasPrefix(s, `"`):
		var str string
		if err := sonnet.Unmarshal(b, &str); err != nil {
			return err
		}
		*u = userID(str)
		return nil
	}
	id, err := model.NumericUserID(s)
	if err != nil {
		return err
	}
	*u = userID(id)
	return nil
}

// timestampLayouts are tried in order when reading event timestamps.
// Zone-less layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime returns the zero time for absent or unparsable timestamps;
// ordering then falls back to the ledger close time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// Encode serializes e into an annotation. Output is deterministic for a
// given event.
func Encode(e model.Event) (model.Annotation, error) {
	w := wireEvent{Version: Version}
	switch ev := e.(type) {
	case model.Purchase:
		w.Type = string(model.KindPurchase)
		w.UserID = userID(ev.UserID)
		w.PurchaseID = ev.PurchaseID
		w.Item = ev.ItemName
		w.Icon = ev.ItemIcon
		w.Amount = num(ev.Amount)
		w.Status = ev.Status
		w.Timestamp = formatTime(ev.Timestamp)
	case model.PredictionConfig:
		days := ev.TimeLimitDays
		w.Type = string(model.KindPredictionConfig)
		w.UserID = userID(ev.UserID)
		w.PositionID = ev.PositionID
		w.PurchaseID = ev.PurchaseID
		w.MarketTicker = ev.MarketTicker
		w.MarketTitle = ev.MarketTitle
		w.Direction = string(ev.Direction)
		w.EntryPrice = num(ev.EntryPrice)
		w.MaxRewardPct = num(ev.MaxRewardPct)
		w.MaxLossPct = num(ev.MaxLossPct)
		w.TimeLimitDays = &days
		w.Timestamp = formatTime(ev.Timestamp)
	case model.PositionUpdate:
		w.Type = string(model.KindPositionUpdate)
		w.UserID = userID(ev.UserID)
		w.PositionID = ev.PositionID
		w.MarketTicker = ev.MarketTicker
		w.CurrentPrice = num(ev.CurrentPrice)
		w.PnL = num(ev.PnL)
		w.Timestamp = formatTime(ev.Timestamp)
	case model.Settlement:
		w.Type = string(model.KindSettlement)
		w.UserID = userID(ev.UserID)
		w.PositionID = ev.PositionID
		w.MarketTicker = ev.MarketTicker
		w.Outcome = string(ev.Outcome)
		w.EntryPrice = num(ev.EntryPrice)
		w.FinalPrice = num(ev.FinalPrice)
		w.SettlementReason = ev.Reason
		w.CashbackAmount = num(ev.CashbackAmount)
		w.ROI = num(ev.ROI)
		w.Timestamp = formatTime(ev.Timestamp)
	case model.CashbackPayment:
		w.Type = string(model.KindCashbackPayment)
		w.PositionID = ev.PositionID
		w.AmountUSD = num(ev.AmountUSD)
		w.AmountXRP = num(ev.AmountNative)
		w.ROI = num(ev.ROI)
	default:
		return model.Annotation{}, fmt.Errorf("memo: cannot encode %T", e)
	}

	data, err := sonnet.Marshal(w)
	if err != nil {
		return model.Annotation{}, fmt.Errorf("memo: marshal: %w", err)
	}
	return model.Annotation{
		Type:   typeTagHex,
		Format: formatHex,
		Data:   strings.ToUpper(hex.EncodeToString(data)),
	}, nil
}

// Decode parses an annotation. Every failure is a *DecodeError.
func Decode(a model.Annotation) (model.Event, error) {
	if a.Data == "" {
		return nil, decodeErr("empty", nil)
	}
	if a.Type != "" && !strings.EqualFold(a.Type, typeTagHex) {
		return nil, decodeErr("foreign", fmt.Errorf("memo type %s", a.Type))
	}
	if a.Format != "" && !strings.EqualFold(a.Format, formatHex) {
		return nil, decodeErr("format", fmt.Errorf("memo format %s", a.Format))
	}

	raw, err := hex.DecodeString(a.Data)
	if err != nil {
		return nil, decodeErr("hex", err)
	}
	var w wireEvent
	if err := sonnet.Unmarshal(raw, &w); err != nil {
		return nil, decodeErr("json", err)
	}
	if w.Version > Version {
		return nil, decodeErr("version", fmt.Errorf("unsupported version %d", w.Version))
	}
	kind, ok := model.ParseKind(w.Type)
	if !ok {
		return nil, decodeErr("kind", fmt.Errorf("unknown type %q", w.Type))
	}
	return w.event(kind)
}

func missing(field string) error {
	return decodeErr("field", fmt.Errorf("missing %s", field))
}

func (w *wireEvent) event(kind model.Kind) (model.Event, error) {
	uid := string(w.UserID)
	ts := parseTime(w.Timestamp)

	switch kind {
	case model.KindPurchase:
		if uid == "" {
			return nil, missing("user_id")
		}
		amount := w.Amount
		if amount == nil {
			amount = w.PurchaseAmount
		}
		if amount == nil {
			return nil, missing("amount")
		}
		return model.Purchase{
			UserID:     uid,
			PurchaseID: w.PurchaseID,
			ItemName:   firstNonEmpty(w.Item, w.ItemName),
			ItemIcon:   w.Icon,
			Amount:     amount.value(),
			Timestamp:  ts,
			Status:     w.Status,
		}, nil

	case model.KindPredictionConfig:
		if uid == "" {
			return nil, missing("user_id")
		}
		if w.PositionID == "" {
			return nil, missing("position_id")
		}
		days := 0
		if w.TimeLimitDays != nil {
			days = *w.TimeLimitDays
		}
		return model.PredictionConfig{
			UserID:        uid,
			PositionID:    w.PositionID,
			PurchaseID:    w.PurchaseID,
			MarketTicker:  w.MarketTicker,
			MarketTitle:   w.MarketTitle,
			Direction:     model.Direction(strings.ToUpper(firstNonEmpty(w.Direction, w.PredictionDirection))),
			EntryPrice:    w.EntryPrice.value(),
			MaxRewardPct:  w.MaxRewardPct.value(),
			MaxLossPct:    w.MaxLossPct.value(),
			TimeLimitDays: days,
			Timestamp:     ts,
		}, nil

	case model.KindPositionUpdate:
		if uid == "" {
			return nil, missing("user_id")
		}
		if w.PositionID == "" {
			return nil, missing("position_id")
		}
		return model.PositionUpdate{
			UserID:       uid,
			PositionID:   w.PositionID,
			MarketTicker: w.MarketTicker,
			CurrentPrice: w.CurrentPrice.value(),
			PnL:          w.PnL.value(),
			Timestamp:    ts,
		}, nil

	case model.KindSettlement:
		if uid == "" {
			return nil, missing("user_id")
		}
		if w.PositionID == "" {
			return nil, missing("position_id")
		}
		outcome := model.Outcome(strings.ToLower(w.Outcome))
		if !outcome.Valid() {
			return nil, decodeErr("field", fmt.Errorf("unknown outcome %q", w.Outcome))
		}
		if w.CashbackAmount == nil {
			return nil, missing("cashback_amount")
		}
		return model.Settlement{
			UserID:         uid,
			PositionID:     w.PositionID,
			MarketTicker:   w.MarketTicker,
			Outcome:        outcome,
			EntryPrice:     w.EntryPrice.value(),
			FinalPrice:     w.FinalPrice.value(),
			Reason:         w.SettlementReason,
			CashbackAmount: w.CashbackAmount.value(),
			ROI:            w.ROI.value(),
			Timestamp:      ts,
		}, nil

	case model.KindCashbackPayment:
		if w.PositionID == "" {
			return nil, missing("position_id")
		}
		if w.AmountUSD == nil {
			return nil, missing("amount_usd")
		}
		return model.CashbackPayment{
			PositionID:   w.PositionID,
			AmountUSD:    w.AmountUSD.value(),
			AmountNative: w.AmountXRP.value(),
			ROI:          w.ROI.value(),
		}, nil
	}
	return nil, decodeErr("kind", fmt.Errorf("unhandled kind %q", kind))
}

// Reason returns the DecodeError label for err, or "other".
func Reason(err error) string {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	return "other"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
