// Package xrpl is a small XRP Ledger client: ed25519 wallets and classic
// addresses, canonical binary serialization for the two transaction types
// the gateway signs, a JSON-RPC client for rippled, submit-and-wait, and
// the test-network faucet.
package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 1 * time.Second
	DefaultWaitTimeout  = 60 * time.Second
	DefaultLedgerOffset = 20
	MinFeeDrops         = 12
)

var (
	// ErrNotFound is matched by RPC errors reporting a missing account,
	// transaction or ledger.
	ErrNotFound = errors.New("xrpl: not found")
	// ErrTransport marks failures reaching the node or reading its reply.
	ErrTransport = errors.New("xrpl: transport")
)

// Client talks JSON-RPC to a rippled node.
type Client struct {
	endpoint     string
	client       *http.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
	ledgerOffset uint32

	seqMu    sync.Mutex
	accounts map[string]*accountSeq
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.client.Timeout = d }
}

// WithPollInterval sets how often SubmitAndWait polls for validation.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithWaitTimeout bounds how long SubmitAndWait waits for validation.
func WithWaitTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithLedgerOffset sets how many ledgers past the current one a
// transaction stays valid for.
func WithLedgerOffset(n uint32) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.ledgerOffset = n
		}
	}
}

// NewClient creates a client for the rippled JSON-RPC endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: DefaultTimeout},
		pollInterval: DefaultPollInterval,
		waitTimeout:  DefaultWaitTimeout,
		ledgerOffset: DefaultLedgerOffset,
		accounts:     make(map[string]*accountSeq),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the node URL.
func (c *Client) Endpoint() string { return c.endpoint }

// rpcRequest is rippled's JSON-RPC request shape: one params object.
type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
}

type rpcStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// RPCError is an error status returned inside a JSON-RPC result.
type RPCError struct {
	Name    string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("xrpl rpc %s", e.Name)
	}
	return fmt.Sprintf("xrpl rpc %s: %s", e.Name, e.Message)
}

// Is matches ErrNotFound for the not-found family of errors.
func (e *RPCError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.Name {
	case "actNotFound", "txnNotFound", "lgrNotFound", "entryNotFound":
		return true
	}
	return false
}

// call performs one JSON-RPC call. Nothing is retried: retry policy
// belongs to the caller.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	req := rpcRequest{Method: method, Params: []any{params}}
	if params == nil {
		req.Params = []any{map[string]any{}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", method, ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: %w: read response: %w", method, ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: status %d: %s", method, ErrTransport, resp.StatusCode, truncate(respBody, 256))
	}

	var rpcResp rpcResponse
	if err := sonnet.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%s: %w: unmarshal response: %w", method, ErrTransport, err)
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}

	var status rpcStatus
	if err := sonnet.Unmarshal(rpcResp.Result, &status); err != nil {
		return fmt.Errorf("%s: unmarshal status: %w", method, err)
	}
	if status.Status == "error" || status.Error != "" {
		return &RPCError{Name: status.Error, Code: status.ErrorCode, Message: status.ErrorMessage}
	}

	if result != nil {
		if err := sonnet.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
