package xrpl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrExpired means the transaction was not validated before the ledger
// passed its LastLedgerSequence.
var ErrExpired = errors.New("xrpl: transaction expired")

// EngineError is a non-success engine result, either at submission or
// in the validated ledger.
type EngineError struct {
	Result  string
	Message string
	Hash    string
}

func (e *EngineError) Error() string {
	msg := e.Result
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Hash != "" {
		msg += " (" + e.Hash + ")"
	}
	return "xrpl engine " + msg
}

// Claimed reports whether the transaction was included and charged a fee
// without taking effect (tec class).
func (e *EngineError) Claimed() bool { return strings.HasPrefix(e.Result, "tec") }

// InFlightError reports a transaction that was signed and handed to the
// node without a final answer. It may still validate in any ledger up to
// LastLedgerSequence.
type InFlightError struct {
	Hash               string
	LastLedgerSequence uint32
	Err                error
}

func (e *InFlightError) Error() string {
	return fmt.Sprintf("xrpl: %s unresolved before ledger %d: %v", e.Hash, e.LastLedgerSequence, e.Err)
}

func (e *InFlightError) Unwrap() error { return e.Err }

// TxResult is a validated, successful transaction.
type TxResult struct {
	Hash        string
	LedgerIndex uint32
	Result      string
	Sequence    uint32
}

// accountSeq serializes submissions from one account and remembers the
// last sequence it handed out.
type accountSeq struct {
	mu   sync.Mutex
	last uint32
}

func (c *Client) sequencer(address string) *accountSeq {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	s, ok := c.accounts[address]
	if !ok {
		s = &accountSeq{}
		c.accounts[address] = s
	}
	return s
}

// SubmitAndWait fills in Sequence, Fee and LastLedgerSequence, signs tx
// with w, submits it, and polls until it is validated. Submissions from
// the same account are serialized so concurrent callers never reuse a
// sequence number.
func (c *Client) SubmitAndWait(ctx context.Context, tx *Transaction, w *Wallet) (*TxResult, error) {
	if tx.Account == "" {
		tx.Account = w.Address()
	}

	hash, err := c.submit(ctx, tx, w)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()
	res, err := c.waitValidated(wctx, hash, tx.LastLedgerSequence)
	if err != nil {
		var eng *EngineError
		if errors.Is(err, ErrExpired) || errors.As(err, &eng) {
			return nil, err
		}
		return nil, &InFlightError{Hash: hash, LastLedgerSequence: tx.LastLedgerSequence, Err: err}
	}
	return res, nil
}

func (c *Client) submit(ctx context.Context, tx *Transaction, w *Wallet) (string, error) {
	seq := c.sequencer(tx.Account)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	if err := c.autofill(ctx, tx, seq.last); err != nil {
		return "", err
	}
	if err := tx.Sign(w); err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	blob, err := tx.Blob()
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}

	res, err := c.Submit(ctx, blob)
	if err != nil {
		// Unknown whether the node saw it; re-read the sequence next time.
		seq.last = 0
		return "", &InFlightError{Hash: hash, LastLedgerSequence: tx.LastLedgerSequence, Err: err}
	}
	if res.Hash != "" && res.Hash != hash {
		return "", fmt.Errorf("submit: node hash %s does not match local hash %s", res.Hash, hash)
	}

	if !provisional(res.EngineResult) {
		seq.last = 0
		eng := &EngineError{Result: res.EngineResult, Message: res.EngineResultMessage, Hash: hash}
		if held(res.EngineResult) {
			// The node may hold a ter transaction and apply it later.
			return "", &InFlightError{Hash: hash, LastLedgerSequence: tx.LastLedgerSequence, Err: eng}
		}
		return "", eng
	}
	seq.last = tx.Sequence
	return hash, nil
}

// provisional reports whether a preliminary result may still end up in a
// validated ledger: success, queued, or a fee-claiming tec.
func provisional(result string) bool {
	switch {
	case result == "tesSUCCESS", result == "terQUEUED":
		return true
	case strings.HasPrefix(result, "tec"):
		return true
	}
	return false
}

// held reports a ter result; terQUEUED is already provisional.
func held(result string) bool {
	return strings.HasPrefix(result, "ter")
}

func (c *Client) autofill(ctx context.Context, tx *Transaction, lastUsed uint32) error {
	info, err := c.AccountInfo(ctx, tx.Account, "current")
	if err != nil {
		return fmt.Errorf("autofill account_info: %w", err)
	}
	if tx.Sequence == 0 {
		tx.Sequence = info.Sequence
		if lastUsed >= tx.Sequence {
			tx.Sequence = lastUsed + 1
		}
	}
	if tx.Fee == 0 {
		fee, err := c.Fee(ctx)
		if err != nil {
			return fmt.Errorf("autofill fee: %w", err)
		}
		tx.Fee = max(fee.BaseFee, fee.OpenLedgerFee, MinFeeDrops)
	}
	if tx.LastLedgerSequence == 0 {
		tx.LastLedgerSequence = info.LedgerCurrentIndex + c.ledgerOffset
	}
	return nil
}

func (c *Client) waitValidated(ctx context.Context, hash string, lastLedger uint32) (*TxResult, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for %s: %w", hash, ctx.Err())
		case <-ticker.C:
			rec, err := c.Tx(ctx, hash)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if err == nil && rec.Validated {
				if rec.Result != "tesSUCCESS" {
					return nil, &EngineError{Result: rec.Result, Hash: hash}
				}
				return &TxResult{
					Hash:        hash,
					LedgerIndex: rec.LedgerIndex,
					Result:      rec.Result,
					Sequence:    rec.Sequence,
				}, nil
			}
			if lastLedger == 0 {
				continue
			}
			info, err := c.ServerInfo(ctx)
			if err != nil {
				return nil, err
			}
			if info.ValidatedLedgerSeq > lastLedger {
				return nil, fmt.Errorf("%w: %s not validated by ledger %d", ErrExpired, hash, lastLedger)
			}
		}
	}
}
