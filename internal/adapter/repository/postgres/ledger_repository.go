package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

type LedgerRepository struct {
	db *sql.DB
}

var _ ports.LedgerReader = (*LedgerRepository)(nil)

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Snapshot reads all three tables from one repeatable-read view so the
// checks never see a half-applied transition.
func (r *LedgerRepository) Snapshot(ctx context.Context) (*domain.LedgerSnapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}

	defer tx.Rollback()

	snap := &domain.LedgerSnapshot{TakenAt: time.Now().UTC()}

	if snap.Bookings, err = collect(ctx, tx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at`, scanBooking); err != nil {
		return nil, fmt.Errorf("failed to read bookings: %w", err)
	}

	if snap.Payments, err = collect(ctx, tx, `SELECT `+paymentColumns+` FROM payments ORDER BY created_at`, scanPayment); err != nil {
		return nil, fmt.Errorf("failed to read payments: %w", err)
	}

	if snap.Payouts, err = collect(ctx, tx, `SELECT `+payoutColumns+` FROM payouts ORDER BY created_at`, scanPayout); err != nil {
		return nil, fmt.Errorf("failed to read payouts: %w", err)
	}

	return snap, tx.Commit()
}

func collect[T any](ctx context.Context, q queryer, query string, scan func(rowScanner) (*T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *v)
	}

	return out, rows.Err()
}
