package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/winback-gateway/internal/api"
	"github.com/atmx/winback-gateway/internal/gateway"
	"github.com/atmx/winback-gateway/internal/identity"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/ledger/ledgertest"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/settlement"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires the full gateway over an in-memory ledger.
func newTestEnv(t *testing.T, hub *api.Hub) (*ledgertest.Ledger, chi.Router) {
	t.Helper()
	l := ledgertest.New()
	reg := identity.NewRegistry(l)
	lg := ledger.New(l)
	eng := settlement.NewEngine(reg, lg)
	opts := []gateway.Option{}
	if hub != nil {
		opts = append(opts, gateway.WithNotifier(hub))
	}
	svc := gateway.New(reg, lg, eng, opts...)
	require.NoError(t, svc.Init(context.Background()))

	r := chi.NewRouter()
	api.NewHandlers(svc, hub).Routes(r)
	return l, r
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func TestLogPurchase_AcceptsNumericUserID(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/purchase/log", `{
		"user_id": 42,
		"purchase_id": "order-1",
		"item_name": "Headphones",
		"item_icon": "🎧",
		"purchase_amount": 129.99
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[gateway.Recorded](t, w)
	assert.Equal(t, "success", res.Status)
	assert.NotEmpty(t, res.TxHash)
	assert.NotEmpty(t, res.UserWallet)

	w = do(t, router, "GET", "/api/v1/user/42/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		UserID            string `json:"user_id"`
		TotalTransactions int    `json:"total_transactions"`
		History           []struct {
			Hash string     `json:"hash"`
			Kind model.Kind `json:"type"`
		} `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, "42", hist.UserID)
	require.Equal(t, 1, hist.TotalTransactions)
	assert.Equal(t, res.TxHash, hist.History[0].Hash)
	assert.Equal(t, model.KindPurchase, hist.History[0].Kind)
}

func TestLogPurchase_NumericUserIDForms(t *testing.T) {
	_, router := newTestEnv(t, nil)

	for _, id := range []string{"42", "42.0", "4.2e1", `"42"`} {
		body := `{"user_id": ` + id + `, "purchase_id": "o", "item_name": "x", "item_icon": "x", "purchase_amount": 1}`
		w := do(t, router, "POST", "/api/v1/purchase/log", body)
		require.Equal(t, http.StatusOK, w.Code, id+": "+w.Body.String())
	}

	w := do(t, router, "GET", "/api/v1/user/42/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		TotalTransactions int `json:"total_transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, 4, hist.TotalTransactions)
}

func TestLogPurchase_BadBody(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/purchase/log", `{"user_id": 1.5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid", decode[errorResponse](t, w).Kind)

	w = do(t, router, "POST", "/api/v1/purchase/log", `{"user_id": "1", "purchase_amount": 5}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorResponse](t, w).Error, "purchase_id")
}

func TestLegacyLog(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/log?user_id=5&amount=12.5&data=socks", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/log?user_id=5&amount=lots&data=socks", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigurePrediction(t *testing.T) {
	_, router := newTestEnv(t, nil)

	body := api.PredictionRequest{
		UserID:           "42",
		PositionID:       "pos-1",
		PurchaseID:       "order-1",
		MarketTicker:     "KXBTC-25MAR01-B90000",
		MarketTitle:      "Bitcoin above 90k?",
		Direction:        "NO",
		EntryPrice:       d(35),
		MaxRewardPercent: d(40),
		MaxLossPercent:   d(15),
		TimeLimitDays:    3,
	}
	w := do(t, router, "POST", "/api/v1/prediction/configure", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "pos-1", decode[gateway.Recorded](t, w).PositionID)

	body.Direction = "MAYBE"
	w = do(t, router, "POST", "/api/v1/prediction/configure", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func settleBody(outcome string, amount float64) api.SettleRequest {
	return api.SettleRequest{
		UserID:           "42",
		PositionID:       "pos-" + outcome,
		MarketTicker:     "KXBTC-25MAR01-B90000",
		Outcome:          outcome,
		EntryPrice:       d(40),
		FinalPrice:       d(100),
		SettlementReason: "resolved",
		CashbackAmount:   d(amount),
		ROI:              d(150),
	}
}

func TestSettlePosition_Win(t *testing.T) {
	l, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/position/settle", settleBody("win", 50))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[model.SettlementResult](t, w)
	assert.Equal(t, settlement.StatusSuccess, res.Status)
	assert.Equal(t, model.PaymentConfirmed, res.PaymentStatus)
	require.NotNil(t, res.CashbackNative)
	assert.True(t, res.CashbackNative.Equal(d(0.5)))
	assert.Len(t, l.Transactions(), 2)
}

func TestSettlePosition_Loss(t *testing.T) {
	l, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/position/settle", settleBody("loss", -30))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[model.SettlementResult](t, w)
	require.NotNil(t, res.AdditionalCharge)
	assert.True(t, res.AdditionalCharge.Equal(d(30)))
	assert.Empty(t, res.PaymentHash)
	assert.Len(t, l.Transactions(), 1)
}

func TestSettlePosition_PaymentFailureIsPartial(t *testing.T) {
	l, router := newTestEnv(t, nil)
	l.SubmitHook = func(tx *xrpl.Transaction) error {
		if tx.TransactionType == xrpl.TxPayment {
			return &xrpl.EngineError{Result: "tecUNFUNDED_PAYMENT"}
		}
		return nil
	}

	w := do(t, router, "POST", "/api/v1/position/settle", settleBody("win", 50))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[model.SettlementResult](t, w)
	assert.Equal(t, settlement.StatusPartial, res.Status)
	assert.Equal(t, model.PaymentFailed, res.PaymentStatus)
	assert.NotEmpty(t, res.SettlementHash)
	assert.Equal(t, "payment", res.PaymentErrorKind)
}

func TestSettlePosition_SignMismatchRejected(t *testing.T) {
	l, router := newTestEnv(t, nil)

	w := do(t, router, "POST", "/api/v1/position/settle", settleBody("win", -5))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid", decode[errorResponse](t, w).Kind)
	assert.Empty(t, l.Transactions())
}

func TestSettlePosition_LedgerDown(t *testing.T) {
	l, router := newTestEnv(t, nil)
	l.Unreachable = true

	w := do(t, router, "POST", "/api/v1/position/settle", settleBody("win", 5))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "network", decode[errorResponse](t, w).Kind)
}

func TestAnalyticsEndpoint(t *testing.T) {
	_, router := newTestEnv(t, nil)
	for _, id := range []string{"1", "2", "3"} {
		w := do(t, router, "POST", "/api/v1/purchase/log", map[string]any{
			"user_id": id, "purchase_id": "o-" + id, "item_name": "x", "item_icon": "x", "purchase_amount": 10,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	win := settleBody("win", 20)
	win.UserID = "1"
	loss := settleBody("loss", -10)
	loss.UserID = "2"
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/v1/position/settle", win).Code)
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/v1/position/settle", loss).Code)

	w := do(t, router, "GET", "/api/v1/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[model.AnalyticsReport](t, w)
	assert.Equal(t, 3, rep.TotalPurchases)
	assert.Equal(t, 2, rep.TotalSettlements)
	assert.Equal(t, 1, rep.TotalWins)
	assert.True(t, rep.WinRatePercent.Equal(d(50)))
	assert.True(t, rep.NetCashback.Equal(d(10)))
}

func TestWalletAndExplorerEndpoints(t *testing.T) {
	_, router := newTestEnv(t, nil)

	w := do(t, router, "GET", "/api/v1/user/7/wallet", nil)
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[gateway.Wallet](t, w)
	assert.True(t, wallet.BalanceXRP.Equal(d(100)))

	w = do(t, router, "GET", "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[gateway.Summary](t, w)
	assert.NotEmpty(t, sum.CompanyWallet)

	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/api/v1/blockchain/status", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/api/v1/blockchain/wallets", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/api/v1/blockchain/feed?limit=5", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/blockchain/feed?limit=many", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, "GET", "/api/v1/blockchain/user/7/trail", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/blockchain/verify/ABCDEF", nil).Code)
}

func TestHub_BroadcastsLedgerEvents(t *testing.T) {
	hub := api.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	_, router := newTestEnv(t, hub)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := do(t, router, "POST", "/api/v1/purchase/log", map[string]any{
		"user_id": "42", "purchase_id": "o-1", "item_name": "x", "item_icon": "x", "purchase_amount": 10,
	})
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[gateway.Recorded](t, w)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "ledger_event", msg.Type)
	assert.Equal(t, model.KindPurchase, msg.Kind)
	assert.Equal(t, rec.TxHash, msg.TxHash)
	assert.Equal(t, "42", msg.UserID)
}
