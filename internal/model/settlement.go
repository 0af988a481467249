package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementRequest asks the engine to settle one position.
type SettlementRequest struct {
	UserID         string          `json:"user_id"`
	PositionID     string          `json:"position_id"`
	MarketTicker   string          `json:"market_ticker"`
	Outcome        Outcome         `json:"outcome"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	Reason         string          `json:"settlement_reason"`
	CashbackAmount decimal.Decimal `json:"cashback_amount"`
	ROI            decimal.Decimal `json:"roi"`
}

// PaymentStatus tracks the value transfer attached to a settlement.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "none"
	PaymentPending   PaymentStatus = "pending" // recorded, payment submitted or about to be, outcome unknown
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// SettlementResult reports both halves of a settlement. A recorded
// settlement with a failed payment is still a result, not an error.
type SettlementResult struct {
	Status           string           `json:"status"` // "success" or "partial"
	Outcome          Outcome          `json:"outcome"`
	PositionID       string           `json:"position_id"`
	SettlementHash   string           `json:"settlement_hash"`
	SettlementURL    string           `json:"settlement_url,omitempty"`
	PaymentStatus    PaymentStatus    `json:"payment_status"`
	PaymentHash      string           `json:"payment_hash,omitempty"`
	PaymentURL       string           `json:"payment_url,omitempty"`
	PaymentError     string           `json:"payment_error,omitempty"`
	PaymentErrorKind string           `json:"payment_error_kind,omitempty"`
	CashbackNative   *decimal.Decimal `json:"cashback_xrp,omitempty"`
	AdditionalCharge *decimal.Decimal `json:"additional_charge,omitempty"`
	Message          string           `json:"message"`
	Replayed         bool             `json:"replayed,omitempty"`
}

// Receipt indexes the ledger hashes a settlement produced, keyed by
// position, so a repeated settle never pays twice.
type Receipt struct {
	ID             string          `json:"id" db:"id"`
	PositionID     string          `json:"position_id" db:"position_id"`
	UserID         string          `json:"user_id" db:"user_id"`
	Outcome        Outcome         `json:"outcome" db:"outcome"`
	CashbackAmount decimal.Decimal `json:"cashback_amount" db:"cashback_amount"`
	NativeAmount   decimal.Decimal `json:"native_amount" db:"native_amount"`
	SettlementHash string          `json:"settlement_hash" db:"settlement_hash"`
	PaymentHash    string          `json:"payment_hash,omitempty" db:"payment_hash"`
	PaymentStatus  PaymentStatus   `json:"payment_status" db:"payment_status"`
	// PaymentLastLedger bounds a pending payment: once the validated
	// ledger passes it, a payment not found on the ledger never will be.
	PaymentLastLedger uint32    `json:"payment_last_ledger,omitempty" db:"payment_last_ledger"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Settled reports whether nothing is left to do for this position.
func (r *Receipt) Settled() bool {
	if r.SettlementHash == "" {
		return false
	}
	return r.PaymentStatus == PaymentNone || r.PaymentStatus == PaymentConfirmed
}
