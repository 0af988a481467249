// Package store defines the persistence interface for settlement receipts.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (the default, and for testing).
//
// A receipt only indexes ledger hashes that are already public; the ledger
// itself remains the system of record.
package store

import (
	"context"
	"errors"

	"github.com/atmx/winback-gateway/internal/model"
)

// ErrNotFound is returned when no receipt exists for a position.
var ErrNotFound = errors.New("receipt not found")

// ReceiptStore is the persistence interface used by the settlement engine.
type ReceiptStore interface {
	// GetReceipt retrieves the receipt for a position, or ErrNotFound.
	GetReceipt(ctx context.Context, positionID string) (*model.Receipt, error)

	// SaveReceipt inserts or replaces the receipt for r.PositionID.
	SaveReceipt(ctx context.Context, r *model.Receipt) error
}
