package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/history"
	"github.com/atmx/winback-gateway/internal/ledger"
	"github.com/atmx/winback-gateway/internal/memo"
	"github.com/atmx/winback-gateway/internal/model"
)

// Feed bounds.
const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 200
)

// listedUserWallets caps the user wallets Wallets lists individually.
const listedUserWallets = 10

// Summary is the service overview served at the root.
type Summary struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	Network       string `json:"network"`
	CompanyWallet string `json:"company_wallet"`
	EscrowWallet  string `json:"escrow_wallet"`
	ExplorerBase  string `json:"explorer_base"`
}

// Summary reports the platform addresses known so far without touching
// the ledger.
func (s *Service) Summary() Summary {
	sum := Summary{
		Status:       "online",
		Service:      "Winback XRPL API",
		Network:      s.ledger.Network(),
		ExplorerBase: s.ledger.Explorer().Base(),
	}
	if company, ok := s.registry.Lookup(model.RoleCompany, ""); ok {
		sum.CompanyWallet = company.Address()
	}
	if escrow, ok := s.registry.Lookup(model.RoleEscrow, ""); ok {
		sum.EscrowWallet = escrow.Address()
	}
	return sum
}

// PlatformStatus reports the ledger connection and platform addresses.
type PlatformStatus struct {
	ledger.NetworkStatus
	OurTransactionCount int    `json:"our_transaction_count"`
	CompanyWallet       string `json:"company_wallet,omitempty"`
	EscrowWallet        string `json:"escrow_wallet,omitempty"`
	ExplorerBase        string `json:"explorer_base"`
	Error               string `json:"error,omitempty"`
}

// Status reports the node state. An unreachable node is reported in the
// result, not as an error. Identities are never provisioned here.
func (s *Service) Status(ctx context.Context) *PlatformStatus {
	st := &PlatformStatus{ExplorerBase: s.ledger.Explorer().Base()}

	net, err := s.ledger.Status(ctx)
	st.NetworkStatus = net
	if err != nil {
		slog.Warn("ledger status unavailable", "err", err)
		st.Error = err.Error()
		return st
	}

	if company, ok := s.registry.Lookup(model.RoleCompany, ""); ok {
		st.CompanyWallet = company.Address()
		records, err := s.ledger.FetchFeed(ctx, company.Address(), 0)
		if err != nil {
			slog.Warn("counting company transactions failed", "err", err)
		}
		st.OurTransactionCount = len(records)
	}
	if escrow, ok := s.registry.Lookup(model.RoleEscrow, ""); ok {
		st.EscrowWallet = escrow.Address()
	}
	return st
}

// PlatformWallet describes the company or escrow account.
type PlatformWallet struct {
	Type             model.Role      `json:"type"`
	Label            string          `json:"label"`
	Icon             string          `json:"icon"`
	Address          string          `json:"address"`
	BalanceXRP       decimal.Decimal `json:"balance_xrp"`
	TransactionCount int             `json:"transaction_count"`
	Purpose          string          `json:"purpose"`
	ExplorerURL      string          `json:"explorer_url"`
}

// UserWallets summarizes user accounts.
type UserWallets struct {
	Count           int             `json:"count"`
	TotalBalanceXRP decimal.Decimal `json:"total_balance_xrp"`
	Wallets         []Wallet        `json:"wallets"`
}

// WalletsReport lists every wallet the platform holds.
type WalletsReport struct {
	PlatformWallets []PlatformWallet `json:"platform_wallets"`
	UserWallets     UserWallets      `json:"user_wallets"`
}

// Wallets reports balances for the platform and user wallets. Accounts
// whose balance cannot be read are left out of the listing.
func (s *Service) Wallets(ctx context.Context) (*WalletsReport, error) {
	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	escrow, err := s.registry.Escrow(ctx)
	if err != nil {
		return nil, err
	}

	explorer := s.ledger.Explorer()
	rep := &WalletsReport{PlatformWallets: []PlatformWallet{}}

	if bal, err := s.ledger.Balance(ctx, company.Address()); err == nil {
		records, err := s.ledger.FetchFeed(ctx, company.Address(), 0)
		if err != nil {
			slog.Warn("counting company transactions failed", "err", err)
		}
		rep.PlatformWallets = append(rep.PlatformWallets, PlatformWallet{
			Type:             model.RoleCompany,
			Label:            "Company Treasury",
			Icon:             "🏢",
			Address:          company.Address(),
			BalanceXRP:       bal,
			TransactionCount: len(records),
			Purpose:          "Main treasury & transaction logging",
			ExplorerURL:      explorer.AccountURL(company.Address()),
		})
	} else {
		slog.Warn("company balance unavailable", "err", err)
	}

	if bal, err := s.ledger.Balance(ctx, escrow.Address()); err == nil {
		rep.PlatformWallets = append(rep.PlatformWallets, PlatformWallet{
			Type:        model.RoleEscrow,
			Label:       "Escrow Wallet",
			Icon:        "🔒",
			Address:     escrow.Address(),
			BalanceXRP:  bal,
			Purpose:     "Holds funds during prediction periods",
			ExplorerURL: explorer.AccountURL(escrow.Address()),
		})
	} else {
		slog.Warn("escrow balance unavailable", "err", err)
	}

	users := s.registry.Users()
	total := decimal.Zero
	listed := []Wallet{}
	for _, u := range users {
		bal, err := s.ledger.Balance(ctx, u.Address())
		if err != nil {
			slog.Warn("user balance unavailable", "user", u.UserID, "err", err)
			continue
		}
		total = total.Add(bal)
		if len(listed) < listedUserWallets {
			listed = append(listed, Wallet{
				UserID:      u.UserID,
				Address:     u.Address(),
				BalanceXRP:  bal,
				ExplorerURL: explorer.AccountURL(u.Address()),
			})
		}
	}
	rep.UserWallets = UserWallets{
		Count:           len(users),
		TotalBalanceXRP: total.Round(model.ReportScale),
		Wallets:         listed,
	}
	return rep, nil
}

// FeedPage is the latest ledger activity of the company account.
type FeedPage struct {
	Transactions []history.FeedItem `json:"transactions"`
	Total        int                `json:"total"`
}

// Feed returns the latest limit records. Zero means DefaultFeedLimit;
// limits above MaxFeedLimit are clamped.
func (s *Service) Feed(ctx context.Context, limit int) (*FeedPage, error) {
	switch {
	case limit < 0:
		return nil, apperr.New(apperr.Invalid, "gateway.Feed", "limit must not be negative")
	case limit == 0:
		limit = DefaultFeedLimit
	case limit > MaxFeedLimit:
		limit = MaxFeedLimit
	}

	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.history.Feed(ctx, company.Address(), limit)
	if err != nil {
		return nil, err
	}
	return &FeedPage{Transactions: items, Total: len(items)}, nil
}

// Trail is a user's records in ledger order, plus their wallet if one
// exists.
type Trail struct {
	UserID       string               `json:"user_id"`
	Wallet       *Wallet              `json:"wallet"`
	Transactions []model.DecodedEvent `json:"transactions"`
	Total        int                  `json:"total"`
}

// UserTrail returns userID's trail without provisioning a wallet.
func (s *Service) UserTrail(ctx context.Context, userID string) (*Trail, error) {
	company, err := s.registry.Company(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.history.Trail(ctx, company.Address(), userID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.DecodedEvent{}
	}

	trail := &Trail{UserID: userID, Transactions: events, Total: len(events)}
	if user, ok := s.registry.Lookup(model.RoleUser, userID); ok {
		w := &Wallet{
			Address:     user.Address(),
			BalanceXRP:  decimal.Zero,
			ExplorerURL: s.ledger.Explorer().AccountURL(user.Address()),
		}
		if bal, err := s.ledger.Balance(ctx, user.Address()); err == nil {
			w.BalanceXRP = bal
		} else {
			slog.Warn("user balance unavailable", "user", userID, "err", err)
		}
		trail.Wallet = w
	}
	return trail, nil
}

// Verification is a ledger transaction with its decoded annotation.
type Verification struct {
	Verified        bool        `json:"verified"`
	Hash            string      `json:"hash"`
	LedgerIndex     uint32      `json:"ledger_index"`
	Timestamp       time.Time   `json:"timestamp"`
	Validated       bool        `json:"validated"`
	Result          string      `json:"result,omitempty"`
	TransactionType string      `json:"transaction_type"`
	Account         string      `json:"account"`
	Destination     string      `json:"destination,omitempty"`
	Kind            model.Kind  `json:"type,omitempty"`
	Data            model.Event `json:"data,omitempty"`
	ExplorerURL     string      `json:"explorer_url"`
}

// VerifyTransaction reads hash from the ledger. Records not signed by the
// company identity verify with no Kind or Data, whatever their memos say.
// Unknown hashes fail with a not_found error.
func (s *Service) VerifyTransaction(ctx context.Context, hash string) (*Verification, error) {
	rec, err := s.ledger.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	v := &Verification{
		Verified:        true,
		Hash:            rec.Hash,
		LedgerIndex:     rec.LedgerIndex,
		Timestamp:       rec.CloseTime,
		Validated:       rec.Validated,
		Result:          rec.Result,
		TransactionType: rec.TransactionType,
		Account:         rec.Account,
		Destination:     rec.Destination,
		ExplorerURL:     s.ledger.Explorer().TxURL(rec.Hash),
	}
	company, ok := s.registry.Lookup(model.RoleCompany, "")
	if !ok || rec.Account != company.Address() {
		return v, nil
	}
	for _, a := range rec.Annotations {
		if ev, err := memo.Decode(a); err == nil {
			v.Kind = ev.Kind()
			v.Data = ev
			break
		}
	}
	return v, nil
}
