package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// AccountInfo is the part of an account root the client needs.
type AccountInfo struct {
	Address            string
	Balance            int64 // drops
	Sequence           uint32
	LedgerCurrentIndex uint32
	Validated          bool
}

type accountInfoResult struct {
	AccountData struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
	LedgerCurrentIndex uint32 `json:"ledger_current_index"`
	LedgerIndex        uint32 `json:"ledger_index"`
	Validated          bool   `json:"validated"`
}

// AccountInfo returns the account root of address. ledger is "current"
// or "validated". A missing account matches ErrNotFound.
func (c *Client) AccountInfo(ctx context.Context, address, ledger string) (*AccountInfo, error) {
	if ledger == "" {
		ledger = "current"
	}
	params := map[string]any{
		"account":      address,
		"ledger_index": ledger,
		"strict":       true,
	}
	var res accountInfoResult
	if err := c.call(ctx, "account_info", params, &res); err != nil {
		return nil, err
	}
	balance, err := ParseDrops(res.AccountData.Balance)
	if err != nil {
		return nil, fmt.Errorf("account_info: %w", err)
	}
	current := res.LedgerCurrentIndex
	if current == 0 {
		current = res.LedgerIndex
	}
	return &AccountInfo{
		Address:            res.AccountData.Account,
		Balance:            balance,
		Sequence:           res.AccountData.Sequence,
		LedgerCurrentIndex: current,
		Validated:          res.Validated,
	}, nil
}

// FeeInfo is the node's current fee schedule in drops.
type FeeInfo struct {
	BaseFee            int64
	OpenLedgerFee      int64
	LedgerCurrentIndex uint32
}

type feeResult struct {
	Drops struct {
		BaseFee       string `json:"base_fee"`
		OpenLedgerFee string `json:"open_ledger_fee"`
	} `json:"drops"`
	LedgerCurrentIndex uint32 `json:"ledger_current_index"`
}

// Fee returns the current fee schedule.
func (c *Client) Fee(ctx context.Context) (*FeeInfo, error) {
	var res feeResult
	if err := c.call(ctx, "fee", nil, &res); err != nil {
		return nil, err
	}
	info := &FeeInfo{LedgerCurrentIndex: res.LedgerCurrentIndex}
	var err error
	if info.BaseFee, err = ParseDrops(res.Drops.BaseFee); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	if res.Drops.OpenLedgerFee != "" {
		if info.OpenLedgerFee, err = ParseDrops(res.Drops.OpenLedgerFee); err != nil {
			return nil, fmt.Errorf("fee: %w", err)
		}
	}
	return info, nil
}

// SubmitResult is the preliminary outcome of submitting a signed blob.
type SubmitResult struct {
	EngineResult        string
	EngineResultMessage string
	Hash                string
	Accepted            bool
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	Accepted            bool   `json:"accepted"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

// Submit sends a signed transaction blob.
func (c *Client) Submit(ctx context.Context, blob string) (*SubmitResult, error) {
	var res submitResult
	if err := c.call(ctx, "submit", map[string]any{"tx_blob": blob}, &res); err != nil {
		return nil, err
	}
	return &SubmitResult{
		EngineResult:        res.EngineResult,
		EngineResultMessage: res.EngineResultMessage,
		Hash:                strings.ToUpper(res.TxJSON.Hash),
		Accepted:            res.Accepted,
	}, nil
}

// TxRecord is a transaction as read back from the ledger.
type TxRecord struct {
	Hash            string
	Account         string
	Destination     string
	TransactionType string
	Sequence        uint32
	LedgerIndex     uint32
	CloseTime       time.Time
	Validated       bool
	Result          string
	Memos           []Memo
}

type txFields struct {
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	TransactionType string `json:"TransactionType"`
	Sequence        uint32 `json:"Sequence"`
	Hash            string `json:"hash"`
	LedgerIndex     uint32 `json:"ledger_index"`
	Date            int64  `json:"date"`
	Memos           []struct {
		Memo Memo `json:"Memo"`
	} `json:"Memos"`
}

// txEntry covers both the API v1 shape (fields inline or under "tx") and
// the v2 shape (fields under "tx_json").
type txEntry struct {
	Tx           *txFields       `json:"tx"`
	TxJSON       *txFields       `json:"tx_json"`
	Meta         json.RawMessage `json:"meta"`
	Hash         string          `json:"hash"`
	LedgerIndex  uint32          `json:"ledger_index"`
	CloseTimeISO string          `json:"close_time_iso"`
	Validated    bool            `json:"validated"`
}

type txMeta struct {
	TransactionResult string `json:"TransactionResult"`
}

func (e *txEntry) record(inline *txFields) TxRecord {
	f := inline
	switch {
	case e.TxJSON != nil:
		f = e.TxJSON
	case e.Tx != nil:
		f = e.Tx
	}
	if f == nil {
		f = &txFields{}
	}

	rec := TxRecord{
		Hash:            strings.ToUpper(firstNonEmpty(e.Hash, f.Hash)),
		Account:         f.Account,
		Destination:     f.Destination,
		TransactionType: f.TransactionType,
		Sequence:        f.Sequence,
		LedgerIndex:     e.LedgerIndex,
		Validated:       e.Validated,
	}
	if rec.LedgerIndex == 0 {
		rec.LedgerIndex = f.LedgerIndex
	}
	if f.Date != 0 {
		rec.CloseTime = RippleTimeToTime(f.Date)
	} else if e.CloseTimeISO != "" {
		if t, err := time.Parse(time.RFC3339, e.CloseTimeISO); err == nil {
			rec.CloseTime = t.UTC()
		}
	}
	// Binary metadata arrives as a hex string; only object metadata is read.
	if len(e.Meta) > 0 && e.Meta[0] == '{' {
		var meta txMeta
		if err := sonnet.Unmarshal(e.Meta, &meta); err == nil {
			rec.Result = meta.TransactionResult
		}
	}
	for _, m := range f.Memos {
		rec.Memos = append(rec.Memos, m.Memo)
	}
	return rec
}

// Tx looks up a transaction by hash. An unknown hash matches ErrNotFound.
func (c *Client) Tx(ctx context.Context, hash string) (*TxRecord, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "tx", map[string]any{"transaction": hash, "binary": false}, &raw); err != nil {
		return nil, err
	}
	var entry txEntry
	if err := sonnet.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("tx: unmarshal entry: %w", err)
	}
	var inline txFields
	if err := sonnet.Unmarshal(raw, &inline); err != nil {
		return nil, fmt.Errorf("tx: unmarshal fields: %w", err)
	}
	rec := entry.record(&inline)
	return &rec, nil
}

// AccountTxRequest selects one page of an account's history.
type AccountTxRequest struct {
	Account string
	Limit   int
	Marker  json.RawMessage
	Forward bool
}

// AccountTxPage is one page of account history. Marker is nil on the
// last page.
type AccountTxPage struct {
	Transactions []TxRecord
	Marker       json.RawMessage
}

type accountTxResult struct {
	Transactions []txEntry       `json:"transactions"`
	Marker       json.RawMessage `json:"marker"`
}

// AccountTx returns one page of transactions touching an account, across
// the full ledger range the node holds.
func (c *Client) AccountTx(ctx context.Context, req AccountTxRequest) (*AccountTxPage, error) {
	params := map[string]any{
		"account":          req.Account,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"binary":           false,
		"forward":          req.Forward,
	}
	if req.Limit > 0 {
		params["limit"] = req.Limit
	}
	if len(req.Marker) > 0 {
		params["marker"] = req.Marker
	}

	var res accountTxResult
	if err := c.call(ctx, "account_tx", params, &res); err != nil {
		return nil, err
	}

	page := &AccountTxPage{Transactions: make([]TxRecord, 0, len(res.Transactions))}
	for i := range res.Transactions {
		page.Transactions = append(page.Transactions, res.Transactions[i].record(nil))
	}
	if len(res.Marker) > 0 && string(res.Marker) != "null" {
		page.Marker = res.Marker
	}
	return page, nil
}

// ServerInfo summarizes node health.
type ServerInfo struct {
	BuildVersion       string
	ServerState        string
	CompleteLedgers    string
	ValidatedLedgerSeq uint32
	ValidatedLedgerAge uint32
	NetworkID          uint32
}

type serverInfoResult struct {
	Info struct {
		BuildVersion    string `json:"build_version"`
		ServerState     string `json:"server_state"`
		CompleteLedgers string `json:"complete_ledgers"`
		NetworkID       uint32 `json:"network_id"`
		ValidatedLedger *struct {
			Seq uint32 `json:"seq"`
			Age uint32 `json:"age"`
		} `json:"validated_ledger"`
	} `json:"info"`
}

// ServerInfo returns the node's status.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var res serverInfoResult
	if err := c.call(ctx, "server_info", nil, &res); err != nil {
		return nil, err
	}
	info := &ServerInfo{
		BuildVersion:    res.Info.BuildVersion,
		ServerState:     res.Info.ServerState,
		CompleteLedgers: res.Info.CompleteLedgers,
		NetworkID:       res.Info.NetworkID,
	}
	if vl := res.Info.ValidatedLedger; vl != nil {
		info.ValidatedLedgerSeq = vl.Seq
		info.ValidatedLedgerAge = vl.Age
	}
	return info, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
