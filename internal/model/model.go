// Package model defines the core domain types shared across the gateway.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role scopes a signing identity.
type Role string

const (
	RoleCompany Role = "company" // logs every event, pays cashback
	RoleEscrow  Role = "escrow"  // reserved for fund holding
	RoleUser    Role = "user"
)

// Kind tags an application event. The values are the on-ledger "type" tags.
type Kind string

const (
	KindPurchase         Kind = "PURCHASE"
	KindPredictionConfig Kind = "PREDICTION_CONFIG"
	KindPositionUpdate   Kind = "POSITION_UPDATE"
	KindSettlement       Kind = "SETTLEMENT"
	KindCashbackPayment  Kind = "CASHBACK_PAYMENT"
)

// Kinds lists every known event kind.
var Kinds = []Kind{KindPurchase, KindPredictionConfig, KindPositionUpdate, KindSettlement, KindCashbackPayment}

// ParseKind accepts a tag in any of its spellings: "SETTLEMENT",
// "settlement", "Settlement", "PredictionConfig", "prediction_config".
func ParseKind(s string) (Kind, bool) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	for _, k := range Kinds {
		if strings.ToLower(strings.ReplaceAll(string(k), "_", "")) == norm {
			return k, true
		}
	}
	return "", false
}

// Direction is the side a prediction takes.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// Outcome is the result of settling a position.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeWin || o == OutcomeLoss || o == OutcomeBreakeven
}

// Event is a closed set of application events: Purchase, PredictionConfig,
// PositionUpdate, Settlement and CashbackPayment. Events are immutable once
// built and are embedded verbatim into a ledger annotation.
type Event interface {
	Kind() Kind
	// Owner is the user id the event belongs to; empty for payments, which
	// are tied to their settlement by position id.
	Owner() string
	// OccurredAt is the event's self-reported time; zero when it has none.
	OccurredAt() time.Time
	sealed()
}

// Purchase records a checkout.
type Purchase struct {
	UserID     string          `json:"user_id"`
	PurchaseID string          `json:"purchase_id"`
	ItemName   string          `json:"item_name"`
	ItemIcon   string          `json:"item_icon"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     string          `json:"status"`
}

// PredictionConfig records the prediction a user attached to a purchase.
type PredictionConfig struct {
	UserID        string          `json:"user_id"`
	PositionID    string          `json:"position_id"`
	PurchaseID    string          `json:"purchase_id"`
	MarketTicker  string          `json:"market_ticker"`
	MarketTitle   string          `json:"market_title"`
	Direction     Direction       `json:"direction"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MaxRewardPct  decimal.Decimal `json:"max_reward_pct"`
	MaxLossPct    decimal.Decimal `json:"max_loss_pct"`
	TimeLimitDays int             `json:"time_limit_days"`
	Timestamp     time.Time       `json:"timestamp"`
}

// PositionUpdate is a mark-to-market snapshot of an open position.
type PositionUpdate struct {
	UserID       string          `json:"user_id"`
	PositionID   string          `json:"position_id"`
	MarketTicker string          `json:"market_ticker"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Settlement records the outcome of a position. CashbackAmount is signed:
// positive is paid to the user, negative is charged.
type Settlement struct {
	UserID         string          `json:"user_id"`
	PositionID     string          `json:"position_id"`
	MarketTicker   string          `json:"market_ticker"`
	Outcome        Outcome         `json:"outcome"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	Reason         string          `json:"reason"`
	CashbackAmount decimal.Decimal `json:"cashback_amount"`
	ROI            decimal.Decimal `json:"roi"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CashbackPayment annotates the value transfer that pays a winning settlement.
type CashbackPayment struct {
	PositionID   string          `json:"position_id"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	AmountNative decimal.Decimal `json:"amount_native"`
	ROI          decimal.Decimal `json:"roi"`
}

func (Purchase) Kind() Kind         { return KindPurchase }
func (PredictionConfig) Kind() Kind { return KindPredictionConfig }
func (PositionUpdate) Kind() Kind   { return KindPositionUpdate }
func (Settlement) Kind() Kind       { return KindSettlement }
func (CashbackPayment) Kind() Kind  { return KindCashbackPayment }

func (e Purchase) Owner() string         { return e.UserID }
func (e PredictionConfig) Owner() string { return e.UserID }
func (e PositionUpdate) Owner() string   { return e.UserID }
func (e Settlement) Owner() string       { return e.UserID }
func (CashbackPayment) Owner() string    { return "" }

func (e Purchase) OccurredAt() time.Time         { return e.Timestamp }
func (e PredictionConfig) OccurredAt() time.Time { return e.Timestamp }
func (e PositionUpdate) OccurredAt() time.Time   { return e.Timestamp }
func (e Settlement) OccurredAt() time.Time       { return e.Timestamp }
func (CashbackPayment) OccurredAt() time.Time    { return time.Time{} }

func (Purchase) sealed()         {}
func (PredictionConfig) sealed() {}
func (PositionUpdate) sealed()   {}
func (Settlement) sealed()       {}
func (CashbackPayment) sealed()  {}

// Annotation is a ledger memo as it appears on the wire: three hex strings.
// Contents are untrusted when read back from the ledger.
type Annotation struct {
	Type   string `json:"memo_type,omitempty"`
	Format string `json:"memo_format,omitempty"`
	Data   string `json:"memo_data,omitempty"`
}

// LedgerRecord is the ledger's view of one submitted transaction.
type LedgerRecord struct {
	Hash            string       `json:"hash"`
	Account         string       `json:"account"`
	Destination     string       `json:"destination,omitempty"`
	TransactionType string       `json:"transaction_type"`
	LedgerIndex     uint32       `json:"ledger_index"`
	Validated       bool         `json:"validated"`
	Result          string       `json:"result,omitempty"`
	CloseTime       time.Time    `json:"close_time"`
	Annotations     []Annotation `json:"annotations,omitempty"`
}

// Confirmation is the terminal result of a submission. When a submission
// fails after signing, Hash names the attempt; InFlight means it may still
// validate in any ledger up to LastLedgerSequence.
type Confirmation struct {
	Hash               string `json:"hash"`
	LedgerIndex        uint32 `json:"ledger_index"`
	Result             string `json:"result"`
	Validated          bool   `json:"validated"`
	InFlight           bool   `json:"in_flight,omitempty"`
	LastLedgerSequence uint32 `json:"last_ledger_sequence,omitempty"`
}

// DecodedEvent is one annotation of one ledger record, decoded.
type DecodedEvent struct {
	Hash        string    `json:"hash"`
	Kind        Kind      `json:"type"`
	LedgerIndex uint32    `json:"ledger_index"`
	LedgerTime  time.Time `json:"ledger_time"`
	Validated   bool      `json:"validated"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	Event       Event     `json:"data"`
}

// SortTime is the time history is ordered by: the event's own timestamp,
// or the ledger close time when the event carries none.
func (d DecodedEvent) SortTime() time.Time {
	if t := d.Event.OccurredAt(); !t.IsZero() {
		return t
	}
	return d.LedgerTime
}

// NumericUserID renders a user id sent as a JSON number in integer form,
// so 7, 7.0 and 7e0 all name user "7". Fractional ids are rejected.
func NumericUserID(lit string) (string, error) {
	d, err := decimal.NewFromString(lit)
	if err != nil {
		return "", fmt.Errorf("user_id %s is not a number", lit)
	}
	if !d.IsInteger() {
		return "", fmt.Errorf("user_id %s is not an integer", lit)
	}
	return d.BigInt().String(), nil
}
