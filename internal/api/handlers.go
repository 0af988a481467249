// Package api binds the gateway operations to HTTP with chi and streams
// confirmed ledger events to WebSocket clients.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/gateway"
	"github.com/atmx/winback-gateway/internal/model"
)

// Handlers serves the gateway over HTTP.
type Handlers struct {
	svc *gateway.Service
	hub *Hub // optional live feed
}

// NewHandlers creates the HTTP handlers. Pass nil for hub to serve
// without the WebSocket feed.
func NewHandlers(svc *gateway.Service, hub *Hub) *Handlers {
	return &Handlers{svc: svc, hub: hub}
}

// Routes mounts every endpoint on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/", h.Root)
	r.Route("/api/v1", func(r chi.Router) {
		if h.hub != nil {
			r.Get("/ws", h.hub.HandleWS)
		}

		r.Post("/purchase/log", h.LogPurchase)
		r.Post("/log", h.LegacyLog)
		r.Post("/prediction/configure", h.ConfigurePrediction)
		r.Post("/position/update", h.UpdatePosition)
		r.Post("/position/settle", h.SettlePosition)

		r.Get("/user/{userID}/wallet", h.GetWallet)
		r.Get("/user/{userID}/history", h.GetHistory)
		r.Get("/analytics", h.GetAnalytics)

		r.Get("/blockchain/status", h.GetStatus)
		r.Get("/blockchain/wallets", h.GetWallets)
		r.Get("/blockchain/feed", h.GetFeed)
		r.Get("/blockchain/verify/{hash}", h.VerifyTransaction)
		r.Get("/blockchain/user/{userID}/trail", h.GetTrail)
	})
}

// --- Request types ---

// userRef accepts user ids as JSON numbers or strings.
type userRef string

func (u *userRef) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*u = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*u = userRef(strings.TrimSpace(str))
		return nil
	}
	id, err := model.NumericUserID(s)
	if err != nil {
		return err
	}
	*u = userRef(id)
	return nil
}

// PurchaseRequest is the JSON body for POST /purchase/log.
type PurchaseRequest struct {
	UserID         userRef         `json:"user_id"`
	PurchaseID     string          `json:"purchase_id"`
	ItemName       string          `json:"item_name"`
	ItemIcon       string          `json:"item_icon"`
	PurchaseAmount decimal.Decimal `json:"purchase_amount"`
}

// PredictionRequest is the JSON body for POST /prediction/configure.
// PurchaseAmount is optional; when present the time limit is checked
// against the holding window for that amount.
type PredictionRequest struct {
	UserID           userRef             `json:"user_id"`
	PositionID       string              `json:"position_id"`
	PurchaseID       string              `json:"purchase_id"`
	MarketTicker     string              `json:"market_ticker"`
	MarketTitle      string              `json:"market_title"`
	Direction        string              `json:"prediction_direction"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	MaxRewardPercent decimal.Decimal     `json:"max_reward_percent"`
	MaxLossPercent   decimal.Decimal     `json:"max_loss_percent"`
	TimeLimitDays    int                 `json:"time_limit_days"`
	PurchaseAmount   decimal.NullDecimal `json:"purchase_amount"`
}

// PositionUpdateRequest is the JSON body for POST /position/update.
type PositionUpdateRequest struct {
	UserID       userRef         `json:"user_id"`
	PositionID   string          `json:"position_id"`
	MarketTicker string          `json:"market_ticker"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnL          decimal.Decimal `json:"pnl"`
}

// SettleRequest is the JSON body for POST /position/settle.
type SettleRequest struct {
	UserID           userRef         `json:"user_id"`
	PositionID       string          `json:"position_id"`
	MarketTicker     string          `json:"market_ticker"`
	Outcome          string          `json:"outcome"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	SettlementReason string          `json:"settlement_reason"`
	CashbackAmount   decimal.Decimal `json:"cashback_amount"`
	ROI              decimal.Decimal `json:"roi"`
}

// --- HTTP Handlers ---

// Root handles GET /
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Summary())
}

// LogPurchase handles POST /api/v1/purchase/log
func (h *Handlers) LogPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.RecordPurchase(r.Context(), gateway.PurchaseInput{
		UserID:     string(req.UserID),
		PurchaseID: req.PurchaseID,
		ItemName:   req.ItemName,
		ItemIcon:   req.ItemIcon,
		Amount:     req.PurchaseAmount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("purchase logged", "user", req.UserID, "purchase_id", req.PurchaseID, "tx_hash", res.TxHash)
	writeJSON(w, http.StatusOK, res)
}

// LegacyLog handles POST /api/v1/log?user_id=&amount=&data=
func (h *Handlers) LegacyLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		writeError(w, r, apperr.New(apperr.Invalid, "api.LegacyLog", "amount must be a number"))
		return
	}
	res, err := h.svc.Log(r.Context(), q.Get("user_id"), amount, q.Get("data"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfigurePrediction handles POST /api/v1/prediction/configure
func (h *Handlers) ConfigurePrediction(w http.ResponseWriter, r *http.Request) {
	var req PredictionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg := model.PredictionConfig{
		UserID:        string(req.UserID),
		PositionID:    req.PositionID,
		PurchaseID:    req.PurchaseID,
		MarketTicker:  req.MarketTicker,
		MarketTitle:   req.MarketTitle,
		Direction:     model.Direction(req.Direction),
		EntryPrice:    req.EntryPrice,
		MaxRewardPct:  req.MaxRewardPercent,
		MaxLossPct:    req.MaxLossPercent,
		TimeLimitDays: req.TimeLimitDays,
	}
	res, err := h.svc.RecordPredictionConfig(r.Context(), cfg, req.PurchaseAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("prediction configured",
		"user", req.UserID,
		"position_id", req.PositionID,
		"ticker", req.MarketTicker,
		"tx_hash", res.TxHash,
	)
	writeJSON(w, http.StatusOK, res)
}

// UpdatePosition handles POST /api/v1/position/update
func (h *Handlers) UpdatePosition(w http.ResponseWriter, r *http.Request) {
	var req PositionUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.RecordPositionUpdate(r.Context(), model.PositionUpdate{
		UserID:       string(req.UserID),
		PositionID:   req.PositionID,
		MarketTicker: req.MarketTicker,
		CurrentPrice: req.CurrentPrice,
		PnL:          req.PnL,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SettlePosition handles POST /api/v1/position/settle
// A recorded settlement whose payment failed is a 200 with status
// "partial" and payment_status "failed".
func (h *Handlers) SettlePosition(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.svc.Settle(r.Context(), model.SettlementRequest{
		UserID:         string(req.UserID),
		PositionID:     req.PositionID,
		MarketTicker:   req.MarketTicker,
		Outcome:        model.Outcome(strings.ToLower(strings.TrimSpace(req.Outcome))),
		EntryPrice:     req.EntryPrice,
		FinalPrice:     req.FinalPrice,
		Reason:         req.SettlementReason,
		CashbackAmount: req.CashbackAmount,
		ROI:            req.ROI,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetWallet handles GET /api/v1/user/{userID}/wallet
func (h *Handlers) GetWallet(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Wallet(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetHistory handles GET /api/v1/user/{userID}/history?tx_type=
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.UserHistory(r.Context(), chi.URLParam(r, "userID"), r.URL.Query().Get("tx_type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAnalytics handles GET /api/v1/analytics
func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PlatformAnalytics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStatus handles GET /api/v1/blockchain/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// GetWallets handles GET /api/v1/blockchain/wallets
func (h *Handlers) GetWallets(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Wallets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetFeed handles GET /api/v1/blockchain/feed?limit=
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, apperr.New(apperr.Invalid, "api.GetFeed", "limit must be an integer"))
			return
		}
		limit = n
	}
	res, err := h.svc.Feed(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// VerifyTransaction handles GET /api/v1/blockchain/verify/{hash}
func (h *Handlers) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.VerifyTransaction(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetTrail handles GET /api/v1/blockchain/user/{userID}/trail
func (h *Handlers) GetTrail(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.UserTrail(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, apperr.Wrap(apperr.Invalid, "api.decode", fmt.Errorf("invalid request body: %w", err)))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is every error response: a machine-readable kind and a
// human-readable message.
type errorBody struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

// writeError logs err and writes it as JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "kind", kind, "err", err)
	} else {
		slog.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}
