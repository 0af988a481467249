// Package history rebuilds application history and platform analytics by
// replaying an account's ledger feed. The feed is shared and public, so
// every annotation is decoded defensively: anything that is not ours, or
// is malformed, is skipped and counted, never surfaced as an error.
//
// Nothing is cached. Each query re-fetches and re-decodes the whole feed.
package history

import (
	"context"
	"log/slog"
	"sort"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/memo"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/model"
)

// Feed reads ledger records for an account, newest first.
type Feed interface {
	FetchFeed(ctx context.Context, address string, limit int) ([]model.LedgerRecord, error)
	Explorer() ledger.Explorer
}

// Reconstructor replays ledger feeds.
type Reconstructor struct {
	feed Feed
}

// New creates a Reconstructor.
func New(feed Feed) *Reconstructor {
	return &Reconstructor{feed: feed}
}

// replay fetches the feed for account and calls fn for every decodable
// annotation account signed, in feed order.
func (r *Reconstructor) replay(ctx context.Context, account string, limit int, fn func(model.DecodedEvent)) error {
	records, err := r.feed.FetchFeed(ctx, account, limit)
	if err != nil {
		return err
	}
	metrics.FeedRecordsTotal.Add(float64(len(records)))

	explorer := r.feed.Explorer()
	for _, rec := range records {
		if !signedBy(rec, account) {
			continue
		}
		for _, a := range rec.Annotations {
			ev, ok := decode(rec, a)
			if !ok {
				continue
			}
			ev.ExplorerURL = explorer.TxURL(rec.Hash)
			fn(ev)
		}
	}
	return nil
}

// signedBy reports whether account signed rec. An account's feed also
// holds payments other wallets sent to it, and their memos are not ours
// whatever they claim.
func signedBy(rec model.LedgerRecord, account string) bool {
	if rec.Account == account {
		return true
	}
	if n := len(rec.Annotations); n > 0 {
		metrics.DecodeSkipsTotal.WithLabelValues("foreign").Add(float64(n))
		slog.Debug("skipping annotations signed by another account", "tx_hash", rec.Hash, "signer", rec.Account)
	}
	return false
}

// decode is the explicit skip step of the replay fold.
func decode(rec model.LedgerRecord, a model.Annotation) (model.DecodedEvent, bool) {
	ev, err := memo.Decode(a)
	if err != nil {
		reason := memo.Reason(err)
		metrics.DecodeSkipsTotal.WithLabelValues(reason).Inc()
		slog.Debug("skipping ledger annotation", "tx_hash", rec.Hash, "reason", reason, "err", err)
		return model.DecodedEvent{}, false
	}
	return model.DecodedEvent{
		Hash:        rec.Hash,
		Kind:        ev.Kind(),
		LedgerIndex: rec.LedgerIndex,
		LedgerTime:  rec.CloseTime,
		Validated:   rec.Validated,
		Event:       ev,
	}, true
}

// UserHistory returns the events belonging to userID recorded by account,
// newest first. A non-empty kind keeps only events of that kind.
//
// Events are ordered by their own timestamp, falling back to the ledger
// close time when they carry none; ties go to the later ledger.
func (r *Reconstructor) UserHistory(ctx context.Context, account, userID string, kind model.Kind) ([]model.DecodedEvent, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Invalid, "history.UserHistory", "user_id is required")
	}

	var out []model.DecodedEvent
	err := r.replay(ctx, account, 0, func(ev model.DecodedEvent) {
		if ev.Event.Owner() != userID {
			return
		}
		if kind != "" && ev.Kind != kind {
			return
		}
		out = append(out, ev)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].SortTime(), out[j].SortTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].LedgerIndex > out[j].LedgerIndex
	})
	return out, nil
}

// Trail returns the events belonging to userID in feed order.
func (r *Reconstructor) Trail(ctx context.Context, account, userID string) ([]model.DecodedEvent, error) {
	if userID == "" {
		return nil, apperr.New(apperr.Invalid, "history.Trail", "user_id is required")
	}
	var out []model.DecodedEvent
	err := r.replay(ctx, account, 0, func(ev model.DecodedEvent) {
		if ev.Event.Owner() == userID {
			out = append(out, ev)
		}
	})
	return out, err
}

// PlatformAnalytics folds every decodable event recorded by account.
func (r *Reconstructor) PlatformAnalytics(ctx context.Context, account string) (*model.Analytics, error) {
	acc := model.NewAnalytics()
	if err := r.replay(ctx, account, 0, func(ev model.DecodedEvent) { acc.Add(ev.Event) }); err != nil {
		return nil, err
	}
	return acc, nil
}
