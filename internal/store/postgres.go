package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/winback-gateway/internal/model"
)

// schema creates the receipts table. Amounts are NUMERIC for exact decimal
// precision.
const schema = `
CREATE TABLE IF NOT EXISTS settlement_receipts (
	id              UUID PRIMARY KEY,
	position_id     TEXT NOT NULL UNIQUE,
	user_id         TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	cashback_amount NUMERIC NOT NULL,
	native_amount   NUMERIC NOT NULL,
	settlement_hash TEXT NOT NULL,
	payment_hash    TEXT NOT NULL DEFAULT '',
	payment_status  TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
ALTER TABLE settlement_receipts
	ADD COLUMN IF NOT EXISTS payment_last_ledger BIGINT NOT NULL DEFAULT 0`

// PostgresStore implements ReceiptStore using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the receipts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate settlement_receipts: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReceipt(ctx context.Context, positionID string) (*model.Receipt, error) {
	var r model.Receipt
	var outcome, status, cashback, native string
	var lastLedger int64

	err := s.pool.QueryRow(ctx,
		`SELECT id::TEXT, position_id, user_id, outcome,
		        cashback_amount::TEXT, native_amount::TEXT,
		        settlement_hash, payment_hash, payment_status, payment_last_ledger,
		        created_at, updated_at
		 FROM settlement_receipts WHERE position_id = $1`, positionID).
		Scan(&r.ID, &r.PositionID, &r.UserID, &outcome,
			&cashback, &native,
			&r.SettlementHash, &r.PaymentHash, &status, &lastLedger,
			&r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", positionID, err)
	}

	r.Outcome = model.Outcome(outcome)
	r.PaymentStatus = model.PaymentStatus(status)
	r.PaymentLastLedger = uint32(lastLedger)
	r.CashbackAmount, _ = decimal.NewFromString(cashback)
	r.NativeAmount, _ = decimal.NewFromString(native)
	return &r, nil
}

func (s *PostgresStore) SaveReceipt(ctx context.Context, r *model.Receipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlement_receipts
		    (id, position_id, user_id, outcome, cashback_amount, native_amount,
		     settlement_hash, payment_hash, payment_status, payment_last_ledger,
		     created_at, updated_at)
		 VALUES ($1::UUID, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (position_id) DO UPDATE SET
		    payment_hash        = EXCLUDED.payment_hash,
		    payment_status      = EXCLUDED.payment_status,
		    payment_last_ledger = EXCLUDED.payment_last_ledger,
		    native_amount       = EXCLUDED.native_amount,
		    updated_at          = EXCLUDED.updated_at`,
		r.ID, r.PositionID, r.UserID, string(r.Outcome),
		r.CashbackAmount.String(), r.NativeAmount.String(),
		r.SettlementHash, r.PaymentHash, string(r.PaymentStatus), int64(r.PaymentLastLedger),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save receipt %s: %w", r.PositionID, err)
	}
	return nil
}
