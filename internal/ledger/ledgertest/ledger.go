// Package ledgertest provides an in-memory XRP Ledger for tests. It signs
// and hashes transactions exactly as the real client does, applies XRP
// payments to balances, and serves account feeds newest first.
package ledgertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/atmx/winback-gateway/internal/xrpl"
)

// DefaultFunding is the balance the fake faucet gives new accounts: 100 XRP.
const DefaultFunding int64 = 100 * xrpl.DropsPerXRP

type account struct {
	balance  int64
	sequence uint32
}

// Ledger is a fake ledger. The zero value is not usable; call New.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*account
	txs      []xrpl.TxRecord // in ledger order
	byHash   map[string]int
	ledger   uint32
	closed   time.Time

	// SubmitHook, when set, runs before a transaction is applied. A
	// non-nil error is returned from SubmitAndWait and nothing is applied.
	SubmitHook func(tx *xrpl.Transaction) error
	// ReplyHook, when set, runs after a transaction is applied. A non-nil
	// error is returned the way the real client reports an unanswered
	// wait: as an xrpl.InFlightError naming the applied hash.
	ReplyHook func(tx *xrpl.Transaction) error
	// Unreachable makes every call fail with a transport error.
	Unreachable bool

	fundCalls int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*account),
		byHash:   make(map[string]int),
		ledger:   1000,
		closed:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (l *Ledger) transportErr(method string) error {
	return fmt.Errorf("%s: %w: connection refused", method, xrpl.ErrTransport)
}

// Fund credits address with drops, creating the account if needed.
func (l *Ledger) Fund(address string, drops int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		acct = &account{sequence: 1}
		l.accounts[address] = acct
	}
	acct.balance += drops
}

// FundNewWallet implements a faucet: a fresh wallet holding DefaultFunding.
func (l *Ledger) FundNewWallet(ctx context.Context) (*xrpl.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, err := xrpl.NewWallet()
	if err != nil {
		return nil, err
	}
	l.Fund(w.Address(), DefaultFunding)
	l.mu.Lock()
	l.fundCalls++
	l.mu.Unlock()
	return w, nil
}

// FundCalls reports how many wallets the faucet created.
func (l *Ledger) FundCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fundCalls
}

// BalanceOf returns an account's balance in drops.
func (l *Ledger) BalanceOf(address string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[address]; ok {
		return acct.balance
	}
	return 0
}

// Transactions returns every applied transaction in ledger order.
func (l *Ledger) Transactions() []xrpl.TxRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]xrpl.TxRecord(nil), l.txs...)
}

// Append adds a raw record, such as a foreign memo, to the ledger.
func (l *Ledger) Append(rec xrpl.TxRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(rec)
}

// Close advances the validated ledger by n empty ledgers.
func (l *Ledger) Close(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ledger += uint32(n)
	l.closed = l.closed.Add(time.Duration(n) * 4 * time.Second)
}

// LedgerIndex is the latest validated ledger.
func (l *Ledger) LedgerIndex() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ledger
}

func (l *Ledger) appendLocked(rec xrpl.TxRecord) {
	l.ledger++
	l.closed = l.closed.Add(4 * time.Second)
	if rec.LedgerIndex == 0 {
		rec.LedgerIndex = l.ledger
	}
	if rec.CloseTime.IsZero() {
		rec.CloseTime = l.closed
	}
	if rec.Hash == "" {
		rec.Hash = fmt.Sprintf("%064X", len(l.txs)+1)
	}
	rec.Validated = true
	if rec.Result == "" {
		rec.Result = "tesSUCCESS"
	}
	l.byHash[rec.Hash] = len(l.txs)
	l.txs = append(l.txs, rec)
}

// SubmitAndWait signs tx with w, applies it, and reports it validated.
func (l *Ledger) SubmitAndWait(ctx context.Context, tx *xrpl.Transaction, w *xrpl.Wallet) (*xrpl.TxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Unreachable {
		return nil, l.transportErr("submit")
	}
	if tx.Account == "" {
		tx.Account = w.Address()
	}
	if l.SubmitHook != nil {
		if err := l.SubmitHook(tx); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[tx.Account]
	if !ok {
		return nil, &xrpl.EngineError{Result: "terNO_ACCOUNT", Message: "The source account does not exist."}
	}
	tx.Sequence = src.sequence
	if tx.Fee == 0 {
		tx.Fee = xrpl.MinFeeDrops
	}
	tx.LastLedgerSequence = l.ledger + 20
	if err := tx.Sign(w); err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	rec := xrpl.TxRecord{
		Hash:            hash,
		Account:         tx.Account,
		TransactionType: tx.TransactionType.String(),
		Sequence:        tx.Sequence,
		Memos:           append([]xrpl.Memo(nil), tx.Memos...),
		Result:          "tesSUCCESS",
	}
	src.sequence++
	src.balance -= tx.Fee

	if tx.TransactionType == xrpl.TxPayment {
		rec.Destination = tx.Destination
		if src.balance < tx.Amount {
			rec.Result = "tecUNFUNDED_PAYMENT"
		} else {
			dst, ok := l.accounts[tx.Destination]
			if !ok {
				dst = &account{sequence: 1}
				l.accounts[tx.Destination] = dst
			}
			src.balance -= tx.Amount
			dst.balance += tx.Amount
		}
	}
	l.appendLocked(rec)

	if l.ReplyHook != nil {
		if err := l.ReplyHook(tx); err != nil {
			return nil, &xrpl.InFlightError{Hash: hash, LastLedgerSequence: tx.LastLedgerSequence, Err: err}
		}
	}
	if rec.Result != "tesSUCCESS" {
		return nil, &xrpl.EngineError{Result: rec.Result, Hash: hash}
	}
	return &xrpl.TxResult{Hash: hash, LedgerIndex: l.ledger, Result: rec.Result, Sequence: tx.Sequence}, nil
}

// AccountTx pages through the transactions touching req.Account, newest
// first. Markers are opaque offsets.
func (l *Ledger) AccountTx(ctx context.Context, req xrpl.AccountTxRequest) (*xrpl.AccountTxPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Unreachable {
		return nil, l.transportErr("account_tx")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[req.Account]; !ok {
		return nil, &xrpl.RPCError{Name: "actNotFound", Message: "Account not found."}
	}
	var matching []xrpl.TxRecord
	for i := len(l.txs) - 1; i >= 0; i-- {
		tx := l.txs[i]
		if tx.Account == req.Account || tx.Destination == req.Account {
			matching = append(matching, tx)
		}
	}

	offset := 0
	if len(req.Marker) > 0 {
		var m struct {
			Offset string `json:"offset"`
		}
		if err := json.Unmarshal(req.Marker, &m); err != nil {
			return nil, &xrpl.RPCError{Name: "invalidParams", Message: "bad marker"}
		}
		offset, _ = strconv.Atoi(m.Offset)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 200
	}
	end := min(offset+limit, len(matching))
	page := &xrpl.AccountTxPage{}
	if offset < len(matching) {
		page.Transactions = append(page.Transactions, matching[offset:end]...)
	}
	if end < len(matching) {
		page.Marker, _ = json.Marshal(map[string]string{"offset": strconv.Itoa(end)})
	}
	return page, nil
}

// AccountInfo reports balance and next sequence.
func (l *Ledger) AccountInfo(ctx context.Context, address, _ string) (*xrpl.AccountInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Unreachable {
		return nil, l.transportErr("account_info")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return nil, &xrpl.RPCError{Name: "actNotFound", Message: "Account not found."}
	}
	return &xrpl.AccountInfo{
		Address:            address,
		Balance:            acct.balance,
		Sequence:           acct.sequence,
		LedgerCurrentIndex: l.ledger + 1,
		Validated:          true,
	}, nil
}

// Tx looks up a transaction by hash.
func (l *Ledger) Tx(ctx context.Context, hash string) (*xrpl.TxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Unreachable {
		return nil, l.transportErr("tx")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byHash[hash]
	if !ok {
		return nil, &xrpl.RPCError{Name: "txnNotFound", Message: "Transaction not found."}
	}
	rec := l.txs[i]
	return &rec, nil
}

// ServerInfo reports the latest ledger.
func (l *Ledger) ServerInfo(ctx context.Context) (*xrpl.ServerInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Unreachable {
		return nil, l.transportErr("server_info")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return &xrpl.ServerInfo{
		BuildVersion:       "fake",
		ServerState:        "full",
		ValidatedLedgerSeq: l.ledger,
		ValidatedLedgerAge: 1,
	}, nil
}
