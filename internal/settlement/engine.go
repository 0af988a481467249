// Package settlement decides what a settled position puts on the ledger.
// Every settlement is first recorded as an annotation; a winning position
// is then paid in the ledger's native unit from the company identity.
//
// A receipt per position makes a repeated settle safe: a completed
// settlement is replayed from its receipt, and a settlement whose payment
// failed retries only the payment. A payment whose outcome is unknown is
// looked up on the ledger and resubmitted only once it can no longer
// validate.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/identity"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/store"
)

// DefaultRate converts one application currency unit into native units.
// It is a fixed configuration constant, not a market price.
var DefaultRate = decimal.RequireFromString("0.01")

// Result statuses.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
)

// SignPolicy decides what happens when a cashback amount's sign disagrees
// with the outcome.
type SignPolicy string

const (
	// SignReject fails the request before anything is submitted.
	SignReject SignPolicy = "reject"
	// SignNormalize coerces wins to |amount|, losses to -|amount| and
	// breakevens to zero.
	SignNormalize SignPolicy = "normalize"
)

// ParseSignPolicy accepts "reject" or "normalize"; empty means reject.
func ParseSignPolicy(s string) (SignPolicy, error) {
	switch SignPolicy(s) {
	case "", SignReject:
		return SignReject, nil
	case SignNormalize:
		return SignNormalize, nil
	}
	return "", fmt.Errorf("unknown sign policy %q", s)
}

// Identities resolves signing identities.
type Identities interface {
	Company(ctx context.Context) (*identity.Identity, error)
	User(ctx context.Context, userID string) (*identity.Identity, error)
}

// Ledger submits annotations and payments and reads back earlier attempts.
type Ledger interface {
	SubmitAnnotation(ctx context.Context, signer ledger.Signer, ev model.Event) (model.Confirmation, error)
	SubmitPayment(ctx context.Context, from, to ledger.Signer, amount decimal.Decimal, ev model.Event) (model.Confirmation, error)
	Lookup(ctx context.Context, hash string) (model.LedgerRecord, error)
	Status(ctx context.Context) (ledger.NetworkStatus, error)
	Explorer() ledger.Explorer
}

// Engine settles positions.
type Engine struct {
	identities Identities
	ledger     Ledger
	receipts   store.ReceiptStore
	// local mirrors every receipt written by this process, so a failing
	// receipt store cannot make a retry pay twice.
	local  *store.MemoryStore
	rate   decimal.Decimal
	policy SignPolicy
	locks  *keyedMutex
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRate sets the application-to-native conversion rate. Non-positive
// rates are ignored.
func WithRate(rate decimal.Decimal) Option {
	return func(e *Engine) {
		if rate.IsPositive() {
			e.rate = rate
		}
	}
}

// WithSignPolicy sets how sign/outcome mismatches are handled.
func WithSignPolicy(p SignPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithReceipts sets the receipt store. The default is in-memory.
func WithReceipts(s store.ReceiptStore) Option {
	return func(e *Engine) { e.receipts = s }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a settlement engine.
func NewEngine(ids Identities, l Ledger, opts ...Option) *Engine {
	local := store.NewMemoryStore()
	e := &Engine{
		identities: ids,
		ledger:     l,
		receipts:   local,
		local:      local,
		rate:       DefaultRate,
		policy:     SignReject,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rate returns the conversion rate in use.
func (e *Engine) Rate() decimal.Decimal { return e.rate }

// Settle records req on the ledger and pays cashback for a winning
// position. A failed payment after a recorded settlement is reported in
// the result with status "partial", not as an error.
func (e *Engine) Settle(ctx context.Context, req model.SettlementRequest) (*model.SettlementResult, error) {
	const op = "settlement.Settle"

	req, err := e.normalize(req)
	if err != nil {
		return nil, err
	}

	unlock, err := e.locks.Lock(ctx, req.PositionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Network, op, err)
	}
	defer unlock()

	prev, err := e.receipt(ctx, req.PositionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, apperr.Wrap(apperr.Internal, op, err)
	default:
		if !sameTerms(prev, req) {
			return nil, apperr.New(apperr.Invalid, op,
				"position %s was already settled as %s with cashback %s", req.PositionID, prev.Outcome, prev.CashbackAmount)
		}
		if prev.Settled() {
			slog.Info("settlement replayed from receipt", "position", req.PositionID, "tx_hash", prev.SettlementHash)
			res := e.fromReceipt(prev, true)
			metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), "replayed").Inc()
			return res, nil
		}
		return e.resume(ctx, req, prev)
	}

	company, err := e.identities.Company(ctx)
	if err != nil {
		return nil, err
	}
	// The beneficiary must exist even when nothing is paid.
	if _, err := e.identities.User(ctx, req.UserID); err != nil {
		return nil, err
	}

	ev := model.Settlement{
		UserID:         req.UserID,
		PositionID:     req.PositionID,
		MarketTicker:   req.MarketTicker,
		Outcome:        req.Outcome,
		EntryPrice:     req.EntryPrice,
		FinalPrice:     req.FinalPrice,
		Reason:         req.Reason,
		CashbackAmount: req.CashbackAmount,
		ROI:            req.ROI,
		Timestamp:      e.now().UTC(),
	}
	conf, err := e.ledger.SubmitAnnotation(ctx, company, ev)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(string(req.Outcome), "error").Inc()
		return nil, &apperr.Error{
			Kind:    apperr.KindOf(err),
			Op:      op,
			Message: "settlement not recorded",
			Err:     err,
		}
	}

	now := e.now().UTC()
	rec := &model.Receipt{
		ID:             uuid.NewString(),
		PositionID:     req.PositionID,
		UserID:         req.UserID,
		Outcome:        req.Outcome,
		CashbackAmount: req.CashbackAmount,
		NativeAmount:   decimal.Zero,
		SettlementHash: conf.Hash,
		PaymentStatus:  model.PaymentNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	slog.Info("settlement recorded", "position", req.PositionID, "user", req.UserID,
		"outcome", req.Outcome, "tx_hash", conf.Hash)

	if !paysCashback(req) {
		e.save(ctx, rec)
		res := e.fromReceipt(rec, false)
		metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
		return res, nil
	}

	rec.NativeAmount = req.CashbackAmount.Mul(e.rate)
	rec.PaymentStatus = model.PaymentPending
	e.save(ctx, rec)
	return e.pay(ctx, req, rec)
}

// attemptState is what the ledger says about an earlier payment.
type attemptState int

const (
	// attemptVoid can no longer move funds: it failed in a validated
	// ledger or expired unseen.
	attemptVoid attemptState = iota
	attemptLanded
	attemptInFlight
)

// resume finishes a recorded settlement whose payment is not confirmed. A
// pending attempt is looked up first, and a new payment is submitted only
// when that attempt is void.
func (e *Engine) resume(ctx context.Context, req model.SettlementRequest, rec *model.Receipt) (*model.SettlementResult, error) {
	if rec.PaymentStatus == model.PaymentPending && rec.PaymentHash != "" {
		state, err := e.attempt(ctx, rec)
		if err != nil {
			slog.Warn("cashback payment could not be checked", "position", rec.PositionID,
				"tx_hash", rec.PaymentHash, "err", err)
			res := e.fromReceipt(rec, false)
			res.PaymentError = err.Error()
			res.PaymentErrorKind = string(apperr.KindOf(err))
			metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
			return res, nil
		}

		switch state {
		case attemptLanded:
			rec.PaymentStatus = model.PaymentConfirmed
			rec.UpdatedAt = e.now().UTC()
			e.save(ctx, rec)
			metrics.PaymentsTotal.WithLabelValues("confirmed").Inc()
			metrics.CashbackPaidNative.Add(rec.NativeAmount.InexactFloat64())
			slog.Info("cashback payment found on ledger", "position", rec.PositionID, "tx_hash", rec.PaymentHash)

			res := e.fromReceipt(rec, false)
			metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
			return res, nil
		case attemptInFlight:
			slog.Info("cashback payment still in flight", "position", rec.PositionID,
				"tx_hash", rec.PaymentHash, "last_ledger", rec.PaymentLastLedger)
			res := e.fromReceipt(rec, false)
			metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
			return res, nil
		}
		slog.Info("cashback payment did not apply", "position", rec.PositionID, "tx_hash", rec.PaymentHash)
	}

	slog.Info("retrying cashback payment", "position", req.PositionID, "tx_hash", rec.SettlementHash)
	rec.PaymentHash = ""
	rec.PaymentLastLedger = 0
	return e.pay(ctx, req, rec)
}

// attempt reads the fate of rec's pending payment.
func (e *Engine) attempt(ctx context.Context, rec *model.Receipt) (attemptState, error) {
	// Read the validated index before the transaction: if it is already
	// past LastLedgerSequence, a transaction missing afterwards is gone.
	st, err := e.ledger.Status(ctx)
	if err != nil {
		return 0, err
	}
	tx, err := e.ledger.Lookup(ctx, rec.PaymentHash)
	switch {
	case err == nil && tx.Validated && tx.Result == "tesSUCCESS":
		return attemptLanded, nil
	case err == nil && tx.Validated:
		return attemptVoid, nil
	case err != nil && apperr.KindOf(err) != apperr.NotFound:
		return 0, err
	}
	if rec.PaymentLastLedger != 0 && st.LatestLedger > rec.PaymentLastLedger {
		return attemptVoid, nil
	}
	return attemptInFlight, nil
}

// pay submits the cashback payment for a recorded settlement and updates
// its receipt.
func (e *Engine) pay(ctx context.Context, req model.SettlementRequest, rec *model.Receipt) (*model.SettlementResult, error) {
	company, err := e.identities.Company(ctx)
	if err != nil {
		return nil, err
	}
	user, err := e.identities.User(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	native := req.CashbackAmount.Mul(e.rate)
	conf, err := e.ledger.SubmitPayment(ctx, company, user, native, model.CashbackPayment{
		PositionID:   req.PositionID,
		AmountUSD:    req.CashbackAmount,
		AmountNative: native,
		ROI:          req.ROI,
	})

	rec.NativeAmount = native
	rec.UpdatedAt = e.now().UTC()
	if err != nil {
		rec.PaymentStatus = model.PaymentFailed
		if conf.InFlight {
			rec.PaymentStatus = model.PaymentPending
			rec.PaymentHash = conf.Hash
			rec.PaymentLastLedger = conf.LastLedgerSequence
		}
		e.save(ctx, rec)

		metrics.PaymentsTotal.WithLabelValues(string(rec.PaymentStatus)).Inc()
		slog.Error("cashback payment failed", "position", req.PositionID, "user", req.UserID,
			"amount_xrp", native.String(), "settlement_hash", rec.SettlementHash,
			"tx_hash", rec.PaymentHash, "in_flight", conf.InFlight, "err", err)

		res := e.fromReceipt(rec, false)
		res.PaymentError = err.Error()
		res.PaymentErrorKind = string(apperr.KindOf(err))
		metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
		return res, nil
	}

	rec.PaymentHash = conf.Hash
	rec.PaymentStatus = model.PaymentConfirmed
	e.save(ctx, rec)

	metrics.PaymentsTotal.WithLabelValues("confirmed").Inc()
	metrics.CashbackPaidNative.Add(native.InexactFloat64())
	slog.Info("cashback paid", "position", req.PositionID, "user", req.UserID,
		"amount_xrp", native.String(), "tx_hash", conf.Hash)

	res := e.fromReceipt(rec, false)
	metrics.SettlementsTotal.WithLabelValues(string(res.Outcome), res.Status).Inc()
	return res, nil
}

// receipt reads this process's copy first, then the receipt store.
func (e *Engine) receipt(ctx context.Context, positionID string) (*model.Receipt, error) {
	if rec, err := e.local.GetReceipt(ctx, positionID); err == nil {
		return rec, nil
	}
	return e.receipts.GetReceipt(ctx, positionID)
}

// save persists rec. The ledger already holds the outcome, so a store
// failure is logged rather than returned; the local copy still guards
// retries in this process.
func (e *Engine) save(ctx context.Context, rec *model.Receipt) {
	_ = e.local.SaveReceipt(ctx, rec)
	if e.receipts == store.ReceiptStore(e.local) {
		return
	}
	if err := e.receipts.SaveReceipt(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("saving settlement receipt failed", "position", rec.PositionID,
			"settlement_hash", rec.SettlementHash, "err", err)
	}
}

// fromReceipt renders a receipt as a result.
func (e *Engine) fromReceipt(rec *model.Receipt, replayed bool) *model.SettlementResult {
	explorer := e.ledger.Explorer()
	res := &model.SettlementResult{
		Status:         StatusSuccess,
		Outcome:        rec.Outcome,
		PositionID:     rec.PositionID,
		SettlementHash: rec.SettlementHash,
		SettlementURL:  explorer.TxURL(rec.SettlementHash),
		PaymentStatus:  rec.PaymentStatus,
		Replayed:       replayed,
	}
	if rec.PaymentStatus != model.PaymentFailed {
		res.PaymentHash = rec.PaymentHash
		res.PaymentURL = explorer.TxURL(rec.PaymentHash)
	}
	amount := rec.CashbackAmount.StringFixed(2)

	switch {
	case rec.Outcome == model.OutcomeWin && rec.CashbackAmount.IsPositive():
		native := rec.NativeAmount
		res.CashbackNative = &native
		switch rec.PaymentStatus {
		case model.PaymentConfirmed:
			res.Message = fmt.Sprintf("Cashback of $%s sent!", amount)
		case model.PaymentPending:
			res.Status = StatusPartial
			res.Message = fmt.Sprintf("Settlement recorded, cashback of $%s awaiting validation", amount)
		default:
			res.Status = StatusPartial
			res.Message = fmt.Sprintf("Settlement recorded, cashback of $%s not paid", amount)
		}
	case rec.Outcome == model.OutcomeLoss:
		charge := rec.CashbackAmount.Abs()
		res.AdditionalCharge = &charge
		res.Message = fmt.Sprintf("Additional charge of $%s applied", charge.StringFixed(2))
	default:
		res.Message = "Position settled - breakeven"
	}
	return res
}

// normalize validates req and applies the sign policy.
func (e *Engine) normalize(req model.SettlementRequest) (model.SettlementRequest, error) {
	const op = "settlement.Settle"

	switch {
	case req.UserID == "":
		return req, apperr.New(apperr.Invalid, op, "user_id is required")
	case req.PositionID == "":
		return req, apperr.New(apperr.Invalid, op, "position_id is required")
	case !req.Outcome.Valid():
		return req, apperr.New(apperr.Invalid, op, "unknown outcome %q", req.Outcome)
	}

	amt := req.CashbackAmount
	mismatch := (req.Outcome == model.OutcomeWin && amt.IsNegative()) ||
		(req.Outcome == model.OutcomeLoss && amt.IsPositive()) ||
		(req.Outcome == model.OutcomeBreakeven && !amt.IsZero())
	if !mismatch {
		return req, nil
	}
	if e.policy != SignNormalize {
		return req, apperr.New(apperr.Invalid, op,
			"cashback_amount %s does not match outcome %s", amt, req.Outcome)
	}

	switch req.Outcome {
	case model.OutcomeWin:
		req.CashbackAmount = amt.Abs()
	case model.OutcomeLoss:
		req.CashbackAmount = amt.Abs().Neg()
	default:
		req.CashbackAmount = decimal.Zero
	}
	slog.Warn("settlement amount normalized", "position", req.PositionID,
		"outcome", req.Outcome, "from", amt.String(), "to", req.CashbackAmount.String())
	return req, nil
}

func paysCashback(req model.SettlementRequest) bool {
	return req.Outcome == model.OutcomeWin && req.CashbackAmount.IsPositive()
}

func sameTerms(r *model.Receipt, req model.SettlementRequest) bool {
	return r.UserID == req.UserID && r.Outcome == req.Outcome && r.CashbackAmount.Equal(req.CashbackAmount)
}
