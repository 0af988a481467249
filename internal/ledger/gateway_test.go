package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/ledger/ledgertest"
	"github.com/atmx/winback-gateway/internal/memo"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

type signer struct{ w *xrpl.Wallet }

func (s signer) Address() string      { return s.w.Address() }
func (s signer) Wallet() *xrpl.Wallet { return s.w }

func newSigner(t *testing.T, l *ledgertest.Ledger) signer {
	t.Helper()
	w, err := l.FundNewWallet(context.Background())
	require.NoError(t, err)
	return signer{w}
}

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSubmitAnnotation_RecordsDecodableMemo(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l)
	company := newSigner(t, l)

	ev := model.Purchase{UserID: "1", PurchaseID: "p1", ItemName: "Mug", Amount: d(12)}
	conf, err := g.SubmitAnnotation(context.Background(), company, ev)
	require.NoError(t, err)
	assert.True(t, conf.Validated)
	assert.Len(t, conf.Hash, 64)

	rec, err := g.Lookup(context.Background(), conf.Hash)
	require.NoError(t, err)
	assert.Equal(t, "AccountSet", rec.TransactionType)
	assert.Equal(t, company.Address(), rec.Account)
	require.Len(t, rec.Annotations, 1)

	decoded, err := memo.Decode(rec.Annotations[0])
	require.NoError(t, err)
	assert.Equal(t, model.KindPurchase, decoded.Kind())
	assert.Equal(t, "1", decoded.Owner())
}

func TestSubmitPayment_ConvertsToDrops(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l)
	company, user := newSigner(t, l), newSigner(t, l)
	before := l.BalanceOf(user.Address())

	_, err := g.SubmitPayment(context.Background(), company, user, d(0.5),
		model.CashbackPayment{PositionID: "pos", AmountUSD: d(50), AmountNative: d(0.5)})
	require.NoError(t, err)
	assert.Equal(t, before+500_000, l.BalanceOf(user.Address()))

	bal, err := g.Balance(context.Background(), user.Address())
	require.NoError(t, err)
	assert.True(t, bal.Equal(xrpl.DropsToXRP(before+500_000)))
}

func TestSubmitPayment_RejectsNonPositive(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l)
	company, user := newSigner(t, l), newSigner(t, l)

	for _, amt := range []decimal.Decimal{decimal.Zero, d(-1), d(0.0000001)} {
		_, err := g.SubmitPayment(context.Background(), company, user, amt, model.CashbackPayment{PositionID: "p"})
		assert.Equal(t, apperr.Payment, apperr.KindOf(err), amt.String())
	}
	assert.Empty(t, l.Transactions(), "nothing may be submitted")
}

func TestSubmitPayment_InsufficientBalance(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l)
	company, user := newSigner(t, l), newSigner(t, l)

	_, err := g.SubmitPayment(context.Background(), company, user, d(1000), model.CashbackPayment{PositionID: "p"})
	require.Error(t, err)
	assert.Equal(t, apperr.Payment, apperr.KindOf(err))
}

func TestSubmit_ErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"rejected", &xrpl.EngineError{Result: "tefPAST_SEQ"}, apperr.Submission},
		{"expired", fmt.Errorf("wait: %w", xrpl.ErrExpired), apperr.Submission},
		{"transport", fmt.Errorf("submit: %w: refused", xrpl.ErrTransport), apperr.Network},
		{"deadline", fmt.Errorf("wait: %w", context.DeadlineExceeded), apperr.Network},
		{"rpc error", &xrpl.RPCError{Name: "invalidTransaction"}, apperr.Submission},
		{"unknown", errors.New("boom"), apperr.Internal},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := ledgertest.New()
			l.SubmitHook = func(*xrpl.Transaction) error { return c.err }
			g := ledger.New(l)

			_, err := g.SubmitAnnotation(context.Background(), newSigner(t, l), model.Purchase{UserID: "1", Amount: d(1)})
			assert.Equal(t, c.want, apperr.KindOf(err))
		})
	}
}

func TestSubmit_ReportsAttemptOnLostReply(t *testing.T) {
	l := ledgertest.New()
	l.ReplyHook = func(*xrpl.Transaction) error { return context.DeadlineExceeded }
	g := ledger.New(l)
	company, user := newSigner(t, l), newSigner(t, l)

	conf, err := g.SubmitPayment(context.Background(), company, user, d(1), model.CashbackPayment{PositionID: "p"})
	require.Error(t, err)
	assert.Equal(t, apperr.Network, apperr.KindOf(err))
	assert.True(t, conf.InFlight)
	assert.NotZero(t, conf.LastLedgerSequence)

	txs := l.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, txs[0].Hash, conf.Hash)
}

func TestSubmit_DefiniteRejectionIsNotInFlight(t *testing.T) {
	l := ledgertest.New()
	l.SubmitHook = func(*xrpl.Transaction) error {
		return &xrpl.EngineError{Result: "tefPAST_SEQ", Hash: "ABC"}
	}
	g := ledger.New(l)

	conf, err := g.SubmitAnnotation(context.Background(), newSigner(t, l), model.Purchase{UserID: "1", Amount: d(1)})
	require.Error(t, err)
	assert.False(t, conf.InFlight)
	assert.Equal(t, "ABC", conf.Hash)
	assert.Equal(t, "tefPAST_SEQ", conf.Result)
}

func TestFetchFeed_PagesNewestFirst(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l, ledger.WithFeedPaging(2, 10))
	company := newSigner(t, l)

	for i := 0; i < 5; i++ {
		_, err := g.SubmitAnnotation(context.Background(), company,
			model.Purchase{UserID: "1", PurchaseID: fmt.Sprintf("p%d", i), Amount: d(1)})
		require.NoError(t, err)
	}

	all, err := g.FetchFeed(context.Background(), company.Address(), 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].LedgerIndex, all[i].LedgerIndex)
	}

	latest, err := g.FetchFeed(context.Background(), company.Address(), 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, all[0].Hash, latest[0].Hash)
}

func TestFetchFeed_StopsAtPageCap(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l, ledger.WithFeedPaging(1, 2))
	company := newSigner(t, l)
	for i := 0; i < 4; i++ {
		_, err := g.SubmitAnnotation(context.Background(), company, model.Purchase{UserID: "1", Amount: d(1)})
		require.NoError(t, err)
	}

	recs, err := g.FetchFeed(context.Background(), company.Address(), 0)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestFetchFeed_CancelledContext(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l)
	company := newSigner(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.FetchFeed(ctx, company.Address(), 0)
	assert.Equal(t, apperr.Network, apperr.KindOf(err))
}

func TestLookup_NotFound(t *testing.T) {
	g := ledger.New(ledgertest.New())
	_, err := g.Lookup(context.Background(), "00")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = g.Lookup(context.Background(), "")
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
}

func TestStatus(t *testing.T) {
	l := ledgertest.New()
	g := ledger.New(l, ledger.WithNetwork("Testnet", "http://node"))

	st, err := g.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "Testnet", st.Network)
	assert.NotZero(t, st.LatestLedger)

	l.Unreachable = true
	st, err = g.Status(context.Background())
	assert.False(t, st.Connected)
	assert.Equal(t, apperr.Network, apperr.KindOf(err))
}

func TestExplorerURLs(t *testing.T) {
	e := ledger.NewExplorer("https://testnet.xrpl.org/")
	assert.Equal(t, "https://testnet.xrpl.org/transactions/AB", e.TxURL("AB"))
	assert.Equal(t, "https://testnet.xrpl.org/accounts/rX", e.AccountURL("rX"))
	assert.Equal(t, "", e.TxURL(""))
}
