package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/time/rate"
)

// DefaultFaucetURL is the XRPL test network faucet.
const DefaultFaucetURL = "https://faucet.altnet.rippletest.net/accounts"

// ErrRateLimited means the local faucet budget has no slot before the
// caller's deadline.
var ErrRateLimited = errors.New("xrpl: faucet rate limited")

// fundHeadroom is the time a caller needs left after its queue slot for
// the faucet call and account activation.
const fundHeadroom = 15 * time.Second

// FaucetError is a non-success response from the faucet.
type FaucetError struct {
	StatusCode int
	Body       string
}

func (e *FaucetError) Error() string {
	return fmt.Sprintf("faucet: status %d: %s", e.StatusCode, e.Body)
}

// Faucet creates funded wallets on a test network. Requests are rate
// limited locally so bursts of new users do not trip the faucet's own
// limits.
type Faucet struct {
	url          string
	client       *http.Client
	node         *Client
	limiter      *rate.Limiter
	pollInterval time.Duration
	fundTimeout  time.Duration
}

// FaucetOption configures Faucet.
type FaucetOption func(*Faucet)

// WithFaucetHTTPClient sets the HTTP client used for faucet requests.
func WithFaucetHTTPClient(hc *http.Client) FaucetOption {
	return func(f *Faucet) { f.client = hc }
}

// WithFaucetRate allows perMinute requests per minute with a burst of one.
func WithFaucetRate(perMinute float64) FaucetOption {
	return func(f *Faucet) {
		if perMinute > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perMinute/60), 1)
		} else {
			f.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// WithFundTimeout bounds how long FundNewWallet waits for the account to
// appear on the ledger.
func WithFundTimeout(d time.Duration) FaucetOption {
	return func(f *Faucet) {
		if d > 0 {
			f.fundTimeout = d
		}
	}
}

// WithFaucetPollInterval sets how often activation is checked.
func WithFaucetPollInterval(d time.Duration) FaucetOption {
	return func(f *Faucet) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// NewFaucet creates a faucet client. node is used to confirm that funded
// accounts exist.
func NewFaucet(url string, node *Client, opts ...FaucetOption) *Faucet {
	if url == "" {
		url = DefaultFaucetURL
	}
	f := &Faucet{
		url:          url,
		client:       &http.Client{Timeout: DefaultTimeout},
		node:         node,
		limiter:      rate.NewLimiter(rate.Limit(6.0/60), 1),
		pollInterval: DefaultPollInterval,
		fundTimeout:  DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type faucetRequest struct {
	Destination string `json:"destination"`
	UserAgent   string `json:"userAgent"`
}

type faucetResponse struct {
	Account struct {
		Address        string `json:"address"`
		ClassicAddress string `json:"classicAddress"`
	} `json:"account"`
	Amount json.Number `json:"amount"`
}

// FundNewWallet generates a wallet, asks the faucet to fund it, and waits
// until the account exists on the ledger.
func (f *Faucet) FundNewWallet(ctx context.Context) (*Wallet, error) {
	w, err := NewWallet()
	if err != nil {
		return nil, err
	}
	if err := f.queue(ctx); err != nil {
		return nil, err
	}
	if err := f.fund(ctx, w.Address()); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, f.fundTimeout)
	defer cancel()
	if err := f.waitActive(wctx, w.Address()); err != nil {
		return nil, err
	}
	return w, nil
}

// queue waits for a rate limit slot. A caller whose deadline would pass
// before the slot plus fundHeadroom gives the slot back and fails at once.
func (f *Faucet) queue(ctx context.Context) error {
	r := f.limiter.Reserve()
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay+fundHeadroom {
		r.Cancel()
		return fmt.Errorf("%w: next slot in %s", ErrRateLimited, delay.Round(time.Second))
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("faucet rate limit: %w", ctx.Err())
	}
}

func (f *Faucet) fund(ctx context.Context, address string) error {
	body, err := json.Marshal(faucetRequest{Destination: address, UserAgent: "winback-gateway"})
	if err != nil {
		return fmt.Errorf("marshal faucet request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create faucet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("faucet request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read faucet response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &FaucetError{StatusCode: resp.StatusCode, Body: truncate(respBody, 256)}
	}

	var fr faucetResponse
	if err := sonnet.Unmarshal(respBody, &fr); err != nil {
		return fmt.Errorf("decode faucet response: %w", err)
	}
	funded := firstNonEmpty(fr.Account.ClassicAddress, fr.Account.Address)
	if funded != "" && funded != address {
		return fmt.Errorf("faucet funded %s, requested %s", funded, address)
	}
	return nil
}

func (f *Faucet) waitActive(ctx context.Context, address string) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for funding of %s: %w", address, ctx.Err())
		case <-ticker.C:
			_, err := f.node.AccountInfo(ctx, address, "validated")
			if err == nil {
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
	}
}
