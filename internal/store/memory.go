package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atmx/winback-gateway/internal/model"
)

// MemoryStore implements ReceiptStore with an in-memory map. Receipts do
// not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts map[string]*model.Receipt
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[string]*model.Receipt),
	}
}

func (s *MemoryStore) GetReceipt(_ context.Context, positionID string) (*model.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) SaveReceipt(_ context.Context, r *model.Receipt) error {
	if r.PositionID == "" {
		return errors.New("receipt has no position id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *r
	if prev, ok := s.receipts[r.PositionID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	s.receipts[r.PositionID] = &cp
	return nil
}

// Len reports how many receipts are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}
