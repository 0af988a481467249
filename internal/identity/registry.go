// Package identity owns the gateway's signing identities: the company and
// escrow singletons and one wallet per user. Identities are created lazily
// through a funding provider and live until the process exits.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/metrics"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

// DefaultProvisionTimeout bounds one funding call, including its wait for
// a faucet slot.
const DefaultProvisionTimeout = 90 * time.Second

// Provisioner funds a brand-new wallet. The test-network faucet is the
// production implementation.
type Provisioner interface {
	FundNewWallet(ctx context.Context) (*xrpl.Wallet, error)
}

// Identity is a read-only view of one signing identity.
type Identity struct {
	Role      model.Role
	UserID    string
	CreatedAt time.Time
	wallet    *xrpl.Wallet
}

// Address returns the identity's classic address.
func (i *Identity) Address() string { return i.wallet.Address() }

// Wallet returns the signing handle.
func (i *Identity) Wallet() *xrpl.Wallet { return i.wallet }

// Registry maps (role, user id) to identities. Concurrent first use of the
// same key results in exactly one provisioning call; every waiter shares
// its result or its failure.
type Registry struct {
	provisioner Provisioner
	timeout     time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	byKey map[string]*Identity
}

// Option configures a Registry.
type Option func(*Registry)

// WithProvisionTimeout bounds each provisioning call.
func WithProvisionTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(p Provisioner, opts ...Option) *Registry {
	r := &Registry{
		provisioner: p,
		timeout:     DefaultProvisionTimeout,
		byKey:       make(map[string]*Identity),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(role model.Role, userID string) string {
	if role == model.RoleUser {
		return "user:" + userID
	}
	return string(role)
}

func validate(role model.Role, userID string) error {
	switch role {
	case model.RoleCompany, model.RoleEscrow:
		return nil
	case model.RoleUser:
		if userID == "" {
			return apperr.New(apperr.Invalid, "identity", "user id is required")
		}
		return nil
	default:
		return apperr.New(apperr.Invalid, "identity", "unknown role %q", role)
	}
}

// Company returns the company identity, provisioning it on first use.
func (r *Registry) Company(ctx context.Context) (*Identity, error) {
	return r.GetOrCreate(ctx, model.RoleCompany, "")
}

// Escrow returns the escrow identity, provisioning it on first use.
func (r *Registry) Escrow(ctx context.Context) (*Identity, error) {
	return r.GetOrCreate(ctx, model.RoleEscrow, "")
}

// User returns the identity for userID, provisioning it on first use.
func (r *Registry) User(ctx context.Context, userID string) (*Identity, error) {
	return r.GetOrCreate(ctx, model.RoleUser, userID)
}

// GetOrCreate returns the identity for (role, userID). userID is ignored
// for the singleton roles.
//
// Provisioning runs detached from ctx so a caller that gives up does not
// fail the other waiters; ctx only bounds how long this caller waits.
func (r *Registry) GetOrCreate(ctx context.Context, role model.Role, userID string) (*Identity, error) {
	if err := validate(role, userID); err != nil {
		return nil, err
	}
	if role != model.RoleUser {
		userID = ""
	}
	k := key(role, userID)

	if id, ok := r.get(k); ok {
		return id, nil
	}

	ch := r.group.DoChan(k, func() (any, error) {
		if id, ok := r.get(k); ok {
			return id, nil
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.provision(pctx, role, userID, k)
	})

	select {
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Network, "identity", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Identity), nil
	}
}

func (r *Registry) provision(ctx context.Context, role model.Role, userID, k string) (*Identity, error) {
	start := time.Now()
	w, err := r.provisioner.FundNewWallet(ctx)
	metrics.ProvisioningLatency.Observe(time.Since(start).Seconds())
	if err == nil && w == nil {
		err = errors.New("provider returned no wallet")
	}
	if err != nil {
		metrics.ProvisioningTotal.WithLabelValues(string(role), "error").Inc()
		slog.Error("identity provisioning failed", "role", role, "user", userID, "err", err)
		return nil, &apperr.Error{
			Kind:    apperr.Provisioning,
			Op:      "identity",
			Message: fmt.Sprintf("provision %s", k),
			Err:     err,
		}
	}

	id := &Identity{Role: role, UserID: userID, CreatedAt: time.Now().UTC(), wallet: w}
	r.mu.Lock()
	r.byKey[k] = id
	r.mu.Unlock()

	metrics.ProvisioningTotal.WithLabelValues(string(role), "ok").Inc()
	metrics.Identities.WithLabelValues(string(role)).Inc()
	slog.Info("identity provisioned", "role", role, "user", userID, "address", w.Address(),
		"duration", time.Since(start))
	return id, nil
}

func (r *Registry) get(k string) (*Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[k]
	return id, ok
}

// Lookup returns an existing identity without provisioning one.
func (r *Registry) Lookup(role model.Role, userID string) (*Identity, bool) {
	if role != model.RoleUser {
		userID = ""
	}
	return r.get(key(role, userID))
}

// Users returns every user identity, oldest first.
func (r *Registry) Users() []*Identity {
	r.mu.RLock()
	out := make([]*Identity, 0, len(r.byKey))
	for _, id := range r.byKey {
		if id.Role == model.RoleUser {
			out = append(out, id)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
