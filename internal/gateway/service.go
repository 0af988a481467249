// Package gateway is the core facade. It exposes the operations callers
// use (record purchases and predictions, settle positions, read wallets,
// history and analytics) and composes the identity registry, the ledger
// gateway, the settlement engine and the history reconstructor behind
// them. It is independent of any transport binding.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/history"
	"github.com/atmx/winback-gateway/internal/identity"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/market"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/settlement"
)

// LegacyIcon is the icon recorded for purchases logged through Log.
const LegacyIcon = "📦"

// LedgerEvent is published for every confirmed annotation or payment.
type LedgerEvent struct {
	Type        string     `json:"type"`
	Kind        model.Kind `json:"kind"`
	TxHash      string     `json:"tx_hash"`
	UserID      string     `json:"user_id,omitempty"`
	PositionID  string     `json:"position_id,omitempty"`
	ExplorerURL string     `json:"explorer_url"`
}

// Notifier receives ledger events. Implementations must not block.
type Notifier interface {
	Notify(LedgerEvent)
}

// Service implements the gateway operations.
type Service struct {
	registry *identity.Registry
	ledger   *ledger.Gateway
	engine   *settlement.Engine
	history  *history.Reconstructor
	notifier Notifier
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier publishes confirmed ledger events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(reg *identity.Registry, lg *ledger.Gateway, eng *settlement.Engine, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		ledger:   lg,
		engine:   eng,
		history:  history.New(lg),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init provisions the platform identities.
func (s *Service) Init(ctx context.Context) error {
	company, err := s.registry.Company(ctx)
	if err != nil {
		return err
	}
	escrow, err := s.registry.Escrow(ctx)
	if err != nil {
		return err
	}
	slog.Info("platform identities ready", "company", company.Address(), "escrow", escrow.Address())
	return nil
}

// Recorded is the result of logging an event.
type Recorded struct {
	Status      string `json:"status"`
	TxHash      string `json:"tx_hash"`
	LedgerIndex uint32 `json:"ledger_index"`
	ExplorerURL string `json:"explorer_url"`
	UserWallet  string `json:"user_wallet,omitempty"`
	PositionID  string `json:"position_id,omitempty"`
	Message     string `json:"message"`
}

// PurchaseInput describes a completed checkout.
type PurchaseInput struct {
	UserID     string          `json:"user_id"`
	PurchaseID string          `json:"purchase_id"`
	ItemName   string          `json:"item_name"`
	ItemIcon   string          `json:"item_icon"`
	Amount     decimal.Decimal `json:"purchase_amount"`
}

// RecordPurchase logs a purchase and makes sure the buyer has a wallet.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (*Recorded, error) {
	const op = "gateway.RecordPurchase"
	switch {
	case in.UserID == "":
		return nil, apperr.New(apperr.Invalid, op, "user_id is required")
	case in.PurchaseID == "":
		return nil, apperr.New(apperr.Invalid, op, "purchase_id is required")
	case in.Amount.IsNegative():
		return nil, apperr.New(apperr.Invalid, op, "purchase_amount must not be negative")
	}

	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	user, err := s.registry.User(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	ev := model.Purchase{
		UserID:     in.UserID,
		PurchaseID: in.PurchaseID,
		ItemName:   in.ItemName,
		ItemIcon:   in.ItemIcon,
		Amount:     in.Amount,
		Timestamp:  s.now().UTC(),
		Status:     "unconfigured",
	}
	conf, err := s.ledger.SubmitAnnotation(ctx, company, ev)
	if err != nil {
		return nil, err
	}
	s.notify(ev, conf.Hash, "")

	return &Recorded{
		Status:      "success",
		TxHash:      conf.Hash,
		LedgerIndex: conf.LedgerIndex,
		ExplorerURL: s.ledger.Explorer().TxURL(conf.Hash),
		UserWallet:  user.Address(),
		Message:     "Purchase logged to XRP Ledger",
	}, nil
}

// Log is the legacy purchase shortcut: data becomes the item name.
func (s *Service) Log(ctx context.Context, userID string, amount decimal.Decimal, data string) (*Recorded, error) {
	return s.RecordPurchase(ctx, PurchaseInput{
		UserID:     userID,
		PurchaseID: fmt.Sprintf("legacy-%d", s.now().Unix()),
		ItemName:   data,
		ItemIcon:   LegacyIcon,
		Amount:     amount,
	})
}

// RecordPredictionConfig validates and logs the prediction attached to a
// purchase. When purchaseAmount is valid the time limit must fit the
// holding window for that amount.
func (s *Service) RecordPredictionConfig(ctx context.Context, cfg model.PredictionConfig, purchaseAmount decimal.NullDecimal) (*Recorded, error) {
	const op = "gateway.RecordPredictionConfig"

	cfg.Direction = model.Direction(strings.ToUpper(strings.TrimSpace(string(cfg.Direction))))
	if err := market.ValidateConfig(cfg, purchaseAmount); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, op, err)
	}

	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	cfg.Timestamp = s.now().UTC()
	conf, err := s.ledger.SubmitAnnotation(ctx, company, cfg)
	if err != nil {
		return nil, err
	}
	s.notify(cfg, conf.Hash, cfg.PositionID)

	return &Recorded{
		Status:      "success",
		TxHash:      conf.Hash,
		LedgerIndex: conf.LedgerIndex,
		ExplorerURL: s.ledger.Explorer().TxURL(conf.Hash),
		PositionID:  cfg.PositionID,
		Message:     "Prediction configured on XRP Ledger",
	}, nil
}

// RecordPositionUpdate logs a mark-to-market snapshot.
func (s *Service) RecordPositionUpdate(ctx context.Context, u model.PositionUpdate) (*Recorded, error) {
	const op = "gateway.RecordPositionUpdate"
	switch {
	case u.UserID == "":
		return nil, apperr.New(apperr.Invalid, op, "user_id is required")
	case u.PositionID == "":
		return nil, apperr.New(apperr.Invalid, op, "position_id is required")
	}
	if _, err := market.ParseTicker(u.MarketTicker); err != nil {
		return nil, apperr.Wrap(apperr.Invalid, op, err)
	}

	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	u.Timestamp = s.now().UTC()
	conf, err := s.ledger.SubmitAnnotation(ctx, company, u)
	if err != nil {
		return nil, err
	}
	s.notify(u, conf.Hash, u.PositionID)

	return &Recorded{
		Status:      "success",
		TxHash:      conf.Hash,
		LedgerIndex: conf.LedgerIndex,
		ExplorerURL: s.ledger.Explorer().TxURL(conf.Hash),
		PositionID:  u.PositionID,
		Message:     "Position update logged to XRP Ledger",
	}, nil
}

// Settle settles a position through the settlement engine.
func (s *Service) Settle(ctx context.Context, req model.SettlementRequest) (*model.SettlementResult, error) {
	res, err := s.engine.Settle(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		s.notifyHash(model.KindSettlement, res.SettlementHash, req.UserID, req.PositionID)
		if res.PaymentStatus == model.PaymentConfirmed {
			s.notifyHash(model.KindCashbackPayment, res.PaymentHash, req.UserID, req.PositionID)
		}
	}
	return res, nil
}

// Wallet describes a user's ledger account.
type Wallet struct {
	UserID      string          `json:"user_id,omitempty"`
	Address     string          `json:"wallet_address"`
	BalanceXRP  decimal.Decimal `json:"balance_xrp"`
	ExplorerURL string          `json:"explorer_url"`
}

// Wallet returns the user's wallet, provisioning it on first use.
func (s *Service) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Invalid, "gateway.Wallet", "user_id is required")
	}
	user, err := s.registry.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	bal, err := s.ledger.Balance(ctx, user.Address())
	if err != nil {
		return nil, err
	}
	return &Wallet{
		UserID:      userID,
		Address:     user.Address(),
		BalanceXRP:  bal,
		ExplorerURL: s.ledger.Explorer().AccountURL(user.Address()),
	}, nil
}

// UserHistory is a user's decoded events, newest first.
type UserHistory struct {
	UserID            string               `json:"user_id"`
	TotalTransactions int                  `json:"total_transactions"`
	History           []model.DecodedEvent `json:"history"`
}

// UserHistory returns userID's events recorded by the company. kindFilter
// accepts any spelling model.ParseKind does; empty means every kind.
func (s *Service) UserHistory(ctx context.Context, userID, kindFilter string) (*UserHistory, error) {
	const op = "gateway.UserHistory"
	var kind model.Kind
	if kindFilter != "" {
		k, ok := model.ParseKind(kindFilter)
		if !ok {
			return nil, apperr.New(apperr.Invalid, op, "unknown tx_type %q", kindFilter)
		}
		kind = k
	}

	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.history.UserHistory(ctx, company.Address(), userID, kind)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.DecodedEvent{}
	}
	return &UserHistory{UserID: userID, TotalTransactions: len(events), History: events}, nil
}

// PlatformAnalytics aggregates every event the company recorded.
func (s *Service) PlatformAnalytics(ctx context.Context) (*model.AnalyticsReport, error) {
	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := s.history.PlatformAnalytics(ctx, company.Address())
	if err != nil {
		return nil, err
	}
	rep := acc.Report(company.Address())
	return &rep, nil
}

func (s *Service) notify(ev model.Event, hash, positionID string) {
	s.notifyHash(ev.Kind(), hash, ev.Owner(), positionID)
}

func (s *Service) notifyHash(kind model.Kind, hash, userID, positionID string) {
	if s.notifier == nil || hash == "" {
		return
	}
	s.notifier.Notify(LedgerEvent{
		Type:        "ledger_event",
		Kind:        kind,
		TxHash:      hash,
		UserID:      userID,
		PositionID:  positionID,
		ExplorerURL: s.ledger.Explorer().TxURL(hash),
	})
}
