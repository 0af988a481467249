package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/winback-gateway/internal/apperr"
	"github.com/atmx/winback-gateway/internal/model"
	"github.com/atmx/winback-gateway/internal/xrpl"
)

type fakeProvisioner struct {
	calls atomic.Int32
	gate  chan struct{} // when set, funding blocks until closed
	err   error
}

func (f *fakeProvisioner) FundNewWallet(ctx context.Context) (*xrpl.Wallet, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return xrpl.NewWallet()
}

func TestGetOrCreate_SequentialIsIdempotent(t *testing.T) {
	p := &fakeProvisioner{}
	r := NewRegistry(p)
	ctx := context.Background()

	a, err := r.User(ctx, "42")
	require.NoError(t, err)
	b, err := r.GetOrCreate(ctx, model.RoleUser, "42")
	require.NoError(t, err)

	assert.Equal(t, a.Address(), b.Address())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGetOrCreate_ConcurrentFirstUseProvisionsOnce(t *testing.T) {
	p := &fakeProvisioner{gate: make(chan struct{})}
	r := NewRegistry(p)

	const n = 20
	addrs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := r.User(context.Background(), "7")
			if assert.NoError(t, err) {
				addrs[i] = id.Address()
			}
		}(i)
	}
	// Let every goroutine reach the single-flight group before funding completes.
	time.Sleep(50 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int32(1), p.calls.Load())
	for _, a := range addrs {
		assert.Equal(t, addrs[0], a)
	}
}

func TestGetOrCreate_DistinctKeys(t *testing.T) {
	p := &fakeProvisioner{}
	r := NewRegistry(p)
	ctx := context.Background()

	company, err := r.Company(ctx)
	require.NoError(t, err)
	escrow, err := r.Escrow(ctx)
	require.NoError(t, err)
	user, err := r.User(ctx, "1")
	require.NoError(t, err)

	assert.NotEqual(t, company.Address(), escrow.Address())
	assert.NotEqual(t, company.Address(), user.Address())
	assert.Equal(t, int32(3), p.calls.Load())

	// The user id is ignored for singleton roles.
	again, err := r.GetOrCreate(ctx, model.RoleCompany, "ignored")
	require.NoError(t, err)
	assert.Same(t, company, again)
}

func TestGetOrCreate_ProvisioningFailureSurfaces(t *testing.T) {
	p := &fakeProvisioner{err: errors.New("faucet unreachable")}
	r := NewRegistry(p)

	_, err := r.User(context.Background(), "9")
	require.Error(t, err)
	assert.Equal(t, apperr.Provisioning, apperr.KindOf(err))

	_, ok := r.Lookup(model.RoleUser, "9")
	assert.False(t, ok, "failed provisioning must not register an identity")

	// Failures are not cached: the next call tries again.
	_, _ = r.User(context.Background(), "9")
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestGetOrCreate_CallerCancelDoesNotFailOthers(t *testing.T) {
	p := &fakeProvisioner{gate: make(chan struct{})}
	r := NewRegistry(p)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.User(ctx, "5")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	err := <-errCh
	assert.Equal(t, apperr.Network, apperr.KindOf(err))

	close(p.gate)
	id, err := r.User(context.Background(), "5")
	require.NoError(t, err)
	assert.NotEmpty(t, id.Address())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestGetOrCreate_Validation(t *testing.T) {
	r := NewRegistry(&fakeProvisioner{})
	_, err := r.GetOrCreate(context.Background(), model.RoleUser, "")
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
	_, err = r.GetOrCreate(context.Background(), model.Role("admin"), "")
	assert.Equal(t, apperr.Invalid, apperr.KindOf(err))
}

func TestUsers_ListsOnlyUsers(t *testing.T) {
	r := NewRegistry(&fakeProvisioner{})
	ctx := context.Background()
	_, _ = r.Company(ctx)
	_, _ = r.User(ctx, "a")
	_, _ = r.User(ctx, "b")

	users := r.Users()
	require.Len(t, users, 2)
	for _, u := range users {
		assert.Equal(t, model.RoleUser, u.Role)
	}
}
