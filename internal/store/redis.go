package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/winback-gateway/internal/model"
)

// CachedStore wraps a primary ReceiptStore (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and refresh the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary ReceiptStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary ReceiptStore, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) SaveReceipt(ctx context.Context, r *model.Receipt) error {
	if err := s.primary.SaveReceipt(ctx, r); err != nil {
		return err
	}
	// Invalidate; the next read re-populates from the primary.
	s.rdb.Del(ctx, receiptKey(r.PositionID))
	return nil
}

func (s *CachedStore) GetReceipt(ctx context.Context, positionID string) (*model.Receipt, error) {
	data, err := s.rdb.Get(ctx, receiptKey(positionID)).Bytes()
	if err == nil {
		var r model.Receipt
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetReceipt(ctx, positionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, receiptKey(positionID), data, s.ttl)
	}
	return r, nil
}

func receiptKey(positionID string) string { return fmt.Sprintf("winback:receipt:%s", positionID) }
