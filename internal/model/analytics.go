package model

import "github.com/shopspring/decimal"

// Analytics folds decoded events into platform-wide aggregates. Sums are
// kept exact; rounding happens only in Report.
type Analytics struct {
	Counts       map[Kind]int
	Wins         int
	Losses       int
	CashbackPaid decimal.Decimal
	Charges      decimal.Decimal
	users        map[string]struct{}
}

// NewAnalytics returns an empty accumulator.
func NewAnalytics() *Analytics {
	return &Analytics{
		Counts: make(map[Kind]int),
		users:  make(map[string]struct{}),
	}
}

// Add folds one event in.
func (a *Analytics) Add(e Event) {
	a.Counts[e.Kind()]++
	if uid := e.Owner(); uid != "" {
		a.users[uid] = struct{}{}
	}

	s, ok := e.(Settlement)
	if !ok {
		return
	}
	switch s.Outcome {
	case OutcomeWin:
		a.Wins++
		a.CashbackPaid = a.CashbackPaid.Add(s.CashbackAmount)
	case OutcomeLoss:
		a.Losses++
		a.Charges = a.Charges.Add(s.CashbackAmount.Abs())
	}
}

// UniqueUsers is the number of distinct user ids seen.
func (a *Analytics) UniqueUsers() int { return len(a.users) }

// WinRatePercent is wins / settlements × 100, or 0 with no settlements.
func (a *Analytics) WinRatePercent() decimal.Decimal {
	settlements := a.Counts[KindSettlement]
	if settlements == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(a.Wins)).
		Div(decimal.NewFromInt(int64(settlements))).
		Mul(decimal.NewFromInt(100))
}

// AnalyticsReport is the presentation form of Analytics.
type AnalyticsReport struct {
	TotalPurchases       int             `json:"total_purchases"`
	TotalPredictions     int             `json:"total_predictions"`
	TotalPositionUpdates int             `json:"total_position_updates"`
	TotalSettlements     int             `json:"total_settlements"`
	TotalPayments        int             `json:"total_payments"`
	TotalWins            int             `json:"total_wins"`
	TotalLosses          int             `json:"total_losses"`
	WinRatePercent       decimal.Decimal `json:"win_rate_percent"`
	TotalCashbackPaid    decimal.Decimal `json:"total_cashback_paid"`
	TotalCharges         decimal.Decimal `json:"total_charges"`
	NetCashback          decimal.Decimal `json:"net_cashback"`
	UniqueUsers          int             `json:"unique_users"`
	CompanyWallet        string          `json:"company_wallet,omitempty"`
}

// ReportScale is the number of decimal places monetary aggregates are
// rounded to for presentation.
const ReportScale int32 = 2

// Report rounds the accumulator for presentation.
func (a *Analytics) Report(companyWallet string) AnalyticsReport {
	return AnalyticsReport{
		TotalPurchases:       a.Counts[KindPurchase],
		TotalPredictions:     a.Counts[KindPredictionConfig],
		TotalPositionUpdates: a.Counts[KindPositionUpdate],
		TotalSettlements:     a.Counts[KindSettlement],
		TotalPayments:        a.Counts[KindCashbackPayment],
		TotalWins:            a.Wins,
		TotalLosses:          a.Losses,
		WinRatePercent:       a.WinRatePercent().Round(ReportScale),
		TotalCashbackPaid:    a.CashbackPaid.Round(ReportScale),
		TotalCharges:         a.Charges.Round(ReportScale),
		NetCashback:          a.CashbackPaid.Sub(a.Charges).Round(ReportScale),
		UniqueUsers:          a.UniqueUsers(),
		CompanyWallet:        companyWallet,
	}
}
