package history

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/memo"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/model"
)

// KindUnknown labels feed records that carry no decodable annotation.
const KindUnknown = "UNKNOWN"

// FeedItem is one ledger record prepared for a live display.
type FeedItem struct {
	Hash        string      `json:"hash"`
	Kind        string      `json:"type"`
	LedgerIndex uint32      `json:"ledger_index"`
	Timestamp   time.Time   `json:"timestamp"`
	Validated   bool        `json:"validated"`
	ExplorerURL string      `json:"explorer_url"`
	Data        model.Event `json:"data,omitempty"`
	Icon        string      `json:"icon"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       string      `json:"color"`
}

// Feed returns the latest limit records of account, one item per record,
// described by its first annotation. Records signed by other accounts are
// listed as KindUnknown.
func (r *Reconstructor) Feed(ctx context.Context, account string, limit int) ([]FeedItem, error) {
	records, err := r.feed.FetchFeed(ctx, account, limit)
	if err != nil {
		return nil, err
	}
	metrics.FeedRecordsTotal.Add(float64(len(records)))

	explorer := r.feed.Explorer()
	items := make([]FeedItem, 0, len(records))
	for _, rec := range records {
		item := FeedItem{
			Hash:        rec.Hash,
			Kind:        KindUnknown,
			LedgerIndex: rec.LedgerIndex,
			Timestamp:   rec.CloseTime,
			Validated:   rec.Validated,
			ExplorerURL: explorer.TxURL(rec.Hash),
		}
		var ev model.Event
		if len(rec.Annotations) > 0 && signedBy(rec, account) {
			if decoded, err := memo.Decode(rec.Annotations[0]); err == nil {
				ev = decoded
			} else {
				metrics.DecodeSkipsTotal.WithLabelValues(memo.Reason(err)).Inc()
			}
		}
		if ev != nil {
			item.Kind = string(ev.Kind())
			item.Data = ev
		}
		item.Icon, item.Title, item.Description, item.Color = describe(ev, rec.TransactionType)
		items = append(items, item)
	}
	return items, nil
}

// describe returns the display icon, title, description and color for ev.
func describe(ev model.Event, txType string) (icon, title, desc, color string) {
	switch e := ev.(type) {
	case model.Purchase:
		return "🛒", "Purchase", fmt.Sprintf("%s • $%s", orDefault(e.ItemName, "Item"), e.Amount.StringFixed(2)), "blue"
	case model.PredictionConfig:
		return "📊", "Prediction Configured",
			fmt.Sprintf("%s • %s at %s¢", clip(orDefault(e.MarketTitle, e.MarketTicker), 40), e.Direction, e.EntryPrice.String()), "purple"
	case model.PositionUpdate:
		return "📈", "Position Update",
			fmt.Sprintf("%s at %s¢ • P&L %s", e.MarketTicker, e.CurrentPrice.String(), signedDollars(e.PnL)), "teal"
	case model.Settlement:
		desc := signedDollars(e.CashbackAmount) + " cashback"
		switch e.Outcome {
		case model.OutcomeWin:
			return "✅", "Settlement - WIN", desc, "green"
		case model.OutcomeLoss:
			return "❌", "Settlement - LOSS", desc, "red"
		default:
			return "➖", "Settlement - BREAKEVEN", desc, "gray"
		}
	case model.CashbackPayment:
		return "💰", "Cashback Paid", fmt.Sprintf("%s XRP sent to user", e.AmountNative.String()), "gold"
	default:
		return "📝", "Transaction", orDefault(txType, KindUnknown), "gray"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// clip shortens s to n runes, marking the cut with an ellipsis.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func signedDollars(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}
