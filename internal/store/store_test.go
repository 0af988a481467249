package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/winback-gateway/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func sampleReceipt(positionID string) *model.Receipt {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Receipt{
		ID:             uuid.NewString(),
		PositionID:     positionID,
		UserID:         "42",
		Outcome:        model.OutcomeWin,
		CashbackAmount: d(50),
		NativeAmount:   d(0.5),
		SettlementHash: "AA",
		PaymentStatus:  model.PaymentFailed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// exerciseStore runs the behaviour every ReceiptStore must share.
func exerciseStore(t *testing.T, s ReceiptStore) {
	t.Helper()
	ctx := context.Background()
	pos := "pos-" + uuid.NewString()

	_, err := s.GetReceipt(ctx, pos)
	require.ErrorIs(t, err, ErrNotFound)

	r := sampleReceipt(pos)
	require.NoError(t, s.SaveReceipt(ctx, r))

	got, err := s.GetReceipt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, model.OutcomeWin, got.Outcome)
	assert.True(t, got.CashbackAmount.Equal(d(50)))
	assert.True(t, got.NativeAmount.Equal(d(0.5)))
	assert.Equal(t, model.PaymentFailed, got.PaymentStatus)
	assert.False(t, got.Settled())

	// Retrying the payment updates the same receipt.
	r.PaymentHash = "BB"
	r.PaymentStatus = model.PaymentConfirmed
	r.UpdatedAt = r.UpdatedAt.Add(time.Second)
	require.NoError(t, s.SaveReceipt(ctx, r))

	got, err = s.GetReceipt(ctx, pos)
	require.NoError(t, err)
	assert.Equal(t, "BB", got.PaymentHash)
	assert.Equal(t, model.PaymentConfirmed, got.PaymentStatus)
	assert.Equal(t, "AA", got.SettlementHash)
	assert.True(t, got.Settled())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := sampleReceipt("p1")
	require.NoError(t, s.SaveReceipt(ctx, r))

	r.SettlementHash = "mutated"
	got, err := s.GetReceipt(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "AA", got.SettlementHash)

	got.PaymentHash = "mutated"
	again, _ := s.GetReceipt(ctx, "p1")
	assert.Empty(t, again.PaymentHash)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_RejectsMissingPosition(t *testing.T) {
	err := NewMemoryStore().SaveReceipt(context.Background(), &model.Receipt{})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	exerciseStore(t, s)
}

func TestCachedStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_URL")
	if addr == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(addr)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })

	primary := NewMemoryStore()
	s := NewCachedStore(primary, rdb, time.Minute)
	exerciseStore(t, s)

	// A cached read survives without touching the primary.
	ctx := context.Background()
	r := sampleReceipt("cached-" + uuid.NewString())
	require.NoError(t, s.SaveReceipt(ctx, r))
	_, err = s.GetReceipt(ctx, r.PositionID)
	require.NoError(t, err)

	n, err := rdb.Exists(ctx, receiptKey(r.PositionID)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
