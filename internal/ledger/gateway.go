// Package ledger is the only component that talks to the XRP Ledger. It
// turns events into signed AccountSet and Payment transactions, reads
// account feeds back as LedgerRecords, and classifies every failure into
// the gateway's error taxonomy. It holds no business logic.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/memo"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

// Default feed paging bounds.
const (
	DefaultPageLimit = 200
	DefaultMaxPages  = 50
)

// Client is the subset of *xrpl.Client the gateway uses.
type Client interface {
	SubmitAndWait(ctx context.Context, tx *xrpl.Transaction, w *xrpl.Wallet) (*xrpl.TxResult, error)
	AccountTx(ctx context.Context, req xrpl.AccountTxRequest) (*xrpl.AccountTxPage, error)
	AccountInfo(ctx context.Context, address, ledger string) (*xrpl.AccountInfo, error)
	Tx(ctx context.Context, hash string) (*xrpl.TxRecord, error)
	ServerInfo(ctx context.Context) (*xrpl.ServerInfo, error)
}

// Signer is a signing identity.
type Signer interface {
	Address() string
	Wallet() *xrpl.Wallet
}

// Gateway adapts a ledger client to the gateway's domain types.
type Gateway struct {
	client    Client
	network   string
	endpoint  string
	pageLimit int
	maxPages  int
	explorer  Explorer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFeedPaging sets the account_tx page size and the page cap per feed.
func WithFeedPaging(limit, maxPages int) Option {
	return func(g *Gateway) {
		if limit > 0 {
			g.pageLimit = limit
		}
		if maxPages > 0 {
			g.maxPages = maxPages
		}
	}
}

// WithNetwork names the network and node for status reports.
func WithNetwork(name, endpoint string) Option {
	return func(g *Gateway) {
		g.network = name
		g.endpoint = endpoint
	}
}

// WithExplorer sets the block explorer used for links.
func WithExplorer(e Explorer) Option {
	return func(g *Gateway) { g.explorer = e }
}

// New creates a Gateway.
func New(client Client, opts ...Option) *Gateway {
	g := &Gateway{
		client:    client,
		network:   "Testnet",
		pageLimit: DefaultPageLimit,
		maxPages:  DefaultMaxPages,
		explorer:  NewExplorer(DefaultExplorerURL),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Explorer returns the explorer the gateway links to.
func (g *Gateway) Explorer() Explorer { return g.explorer }

// Network is the configured network name.
func (g *Gateway) Network() string { return g.network }

// SubmitAnnotation records ev as a value-free AccountSet signed by signer
// and waits for a validated result.
func (g *Gateway) SubmitAnnotation(ctx context.Context, signer Signer, ev model.Event) (model.Confirmation, error) {
	const op = "ledger.SubmitAnnotation"

	tx := &xrpl.Transaction{
		TransactionType: xrpl.TxAccountSet,
		Account:         signer.Address(),
	}
	if err := attach(tx, ev); err != nil {
		return model.Confirmation{}, apperr.Wrap(apperr.Internal, op, err)
	}
	return g.submit(ctx, op, tx, signer, ev.Kind())
}

// SubmitPayment transfers amount (native units) from one identity to
// another with ev attached. Non-positive amounts fail with a Payment
// error; insufficient balance is reported by the network, not pre-checked.
func (g *Gateway) SubmitPayment(ctx context.Context, from, to Signer, amount decimal.Decimal, ev model.Event) (model.Confirmation, error) {
	const op = "ledger.SubmitPayment"

	if !amount.IsPositive() {
		return model.Confirmation{}, apperr.New(apperr.Payment, op, "amount must be positive, got %s", amount)
	}
	drops, err := xrpl.XRPToDrops(amount)
	if err != nil {
		return model.Confirmation{}, apperr.Wrap(apperr.Payment, op, err)
	}
	if drops == 0 {
		return model.Confirmation{}, apperr.New(apperr.Payment, op, "amount %s is below one drop", amount)
	}

	tx := &xrpl.Transaction{
		TransactionType: xrpl.TxPayment,
		Account:         from.Address(),
		Destination:     to.Address(),
		Amount:          drops,
	}
	if err := attach(tx, ev); err != nil {
		return model.Confirmation{}, apperr.Wrap(apperr.Internal, op, err)
	}
	return g.submit(ctx, op, tx, from, ev.Kind())
}

func attach(tx *xrpl.Transaction, ev model.Event) error {
	a, err := memo.Encode(ev)
	if err != nil {
		return err
	}
	tx.Memos = []xrpl.Memo{{MemoType: a.Type, MemoData: a.Data, MemoFormat: a.Format}}
	return nil
}

func (g *Gateway) submit(ctx context.Context, op string, tx *xrpl.Transaction, signer Signer, kind model.Kind) (model.Confirmation, error) {
	txType := tx.TransactionType.String()
	start := time.Now()

	res, err := g.client.SubmitAndWait(ctx, tx, signer.Wallet())
	metrics.SubmissionLatency.WithLabelValues(txType).Observe(time.Since(start).Seconds())
	if err != nil {
		cerr := classify(op, err, tx.TransactionType == xrpl.TxPayment)
		metrics.SubmissionsTotal.WithLabelValues(txType, string(kind), string(apperr.KindOf(cerr))).Inc()
		conf := attempted(err)
		slog.Warn("ledger submission failed", "tx_type", txType, "kind", kind,
			"account", tx.Account, "sequence", tx.Sequence, "tx_hash", conf.Hash,
			"in_flight", conf.InFlight, "err", err)
		return conf, cerr
	}

	metrics.SubmissionsTotal.WithLabelValues(txType, string(kind), "ok").Inc()
	slog.Info("ledger submission validated", "tx_type", txType, "kind", kind,
		"tx_hash", res.Hash, "ledger_index", res.LedgerIndex, "duration", time.Since(start))
	return model.Confirmation{
		Hash:        res.Hash,
		LedgerIndex: res.LedgerIndex,
		Result:      res.Result,
		Validated:   true,
	}, nil
}

// attempted describes a failed submission: the hash it was signed with,
// if any, and whether it can still validate.
func attempted(err error) model.Confirmation {
	var inflight *xrpl.InFlightError
	var eng *xrpl.EngineError
	switch {
	case errors.As(err, &inflight):
		return model.Confirmation{
			Hash:               inflight.Hash,
			InFlight:           true,
			LastLedgerSequence: inflight.LastLedgerSequence,
		}
	case errors.As(err, &eng):
		return model.Confirmation{Hash: eng.Hash, Result: eng.Result}
	}
	return model.Confirmation{}
}

// unfundedResults are engine results meaning the payer cannot cover a payment.
var unfundedResults = map[string]bool{
	"tecUNFUNDED_PAYMENT": true,
	"tecUNFUNDED":         true,
	"tecINSUFF_FEE":       true,
	"terINSUF_FEE_B":      true,
	"tecNO_DST_INSUF_XRP": true,
}

// classify maps client errors onto the error taxonomy.
func classify(op string, err error, payment bool) error {
	var eng *xrpl.EngineError
	var rpcErr *xrpl.RPCError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.Network, op, err)
	case errors.As(err, &eng):
		if payment && unfundedResults[eng.Result] {
			return apperr.Wrap(apperr.Payment, op, err)
		}
		return apperr.Wrap(apperr.Submission, op, err)
	case errors.Is(err, xrpl.ErrExpired):
		return apperr.Wrap(apperr.Submission, op, err)
	case errors.Is(err, xrpl.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, op, err)
	case errors.As(err, &rpcErr):
		return apperr.Wrap(apperr.Submission, op, err)
	case errors.Is(err, xrpl.ErrTransport):
		return apperr.Wrap(apperr.Network, op, err)
	case errors.Is(err, xrpl.ErrAmountRange):
		return apperr.Wrap(apperr.Payment, op, err)
	default:
		return apperr.Wrap(apperr.Internal, op, err)
	}
}

// FetchFeed returns the transactions touching address, newest first. A
// limit of zero reads every page up to the configured page cap.
func (g *Gateway) FetchFeed(ctx context.Context, address string, limit int) ([]model.LedgerRecord, error) {
	const op = "ledger.FetchFeed"

	pageLimit := g.pageLimit
	if limit > 0 && limit < pageLimit {
		pageLimit = limit
	}

	var (
		records []model.LedgerRecord
		marker  json.RawMessage
	)
	for page := 0; page < g.maxPages; page++ {
		res, err := g.client.AccountTx(ctx, xrpl.AccountTxRequest{
			Account: address,
			Limit:   pageLimit,
			Marker:  marker,
		})
		if err != nil {
			return nil, classify(op, err, false)
		}
		for _, tx := range res.Transactions {
			records = append(records, toRecord(tx))
			if limit > 0 && len(records) == limit {
				return records, nil
			}
		}
		if res.Marker == nil {
			return records, nil
		}
		marker = res.Marker
	}

	slog.Warn("ledger feed truncated at page cap", "account", address,
		"pages", g.maxPages, "records", len(records))
	return records, nil
}

// Lookup reads one transaction by hash.
func (g *Gateway) Lookup(ctx context.Context, hash string) (model.LedgerRecord, error) {
	const op = "ledger.Lookup"
	if hash == "" {
		return model.LedgerRecord{}, apperr.New(apperr.Invalid, op, "transaction hash is required")
	}
	tx, err := g.client.Tx(ctx, hash)
	if err != nil {
		return model.LedgerRecord{}, classify(op, err, false)
	}
	return toRecord(*tx), nil
}

// Balance returns the validated balance of address in native units.
func (g *Gateway) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := g.client.AccountInfo(ctx, address, "validated")
	if err != nil {
		return decimal.Zero, classify("ledger.Balance", err, false)
	}
	return xrpl.DropsToXRP(info.Balance), nil
}

// NetworkStatus describes the node the gateway is connected to.
type NetworkStatus struct {
	Connected        bool   `json:"connected"`
	Network          string `json:"network"`
	Endpoint         string `json:"endpoint"`
	ServerState      string `json:"server_state,omitempty"`
	BuildVersion     string `json:"build_version,omitempty"`
	LatestLedger     uint32 `json:"latest_ledger"`
	LedgerAgeSeconds uint32 `json:"ledger_age_seconds"`
}

// Status queries the node. An unreachable node yields Connected=false and
// the classified error.
func (g *Gateway) Status(ctx context.Context) (NetworkStatus, error) {
	st := NetworkStatus{Network: g.network, Endpoint: g.endpoint}
	info, err := g.client.ServerInfo(ctx)
	if err != nil {
		return st, classify("ledger.Status", err, false)
	}
	st.Connected = true
	st.ServerState = info.ServerState
	st.BuildVersion = info.BuildVersion
	st.LatestLedger = info.ValidatedLedgerSeq
	st.LedgerAgeSeconds = info.ValidatedLedgerAge
	return st, nil
}

func toRecord(tx xrpl.TxRecord) model.LedgerRecord {
	rec := model.LedgerRecord{
		Hash:            tx.Hash,
		Account:         tx.Account,
		Destination:     tx.Destination,
		TransactionType: tx.TransactionType,
		LedgerIndex:     tx.LedgerIndex,
		Validated:       tx.Validated,
		Result:          tx.Result,
		CloseTime:       tx.CloseTime,
	}
	for _, m := range tx.Memos {
		rec.Annotations = append(rec.Annotations, model.Annotation{
			Type:   m.MemoType,
			Format: m.MemoFormat,
			Data:   m.MemoData,
		})
	}
	return rec
}
