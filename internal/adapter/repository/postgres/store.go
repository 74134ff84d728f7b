package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

var _ ports.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Bookings() ports.BookingRepository {
	return &BookingRepository{q: s.q}
}

func (s *Store) Payments() ports.PaymentRepository {
	return &PaymentRepository{q: s.q}
}

func (s *Store) Payouts() ports.PayoutRepository {
	return &PayoutRepository{q: s.q}
}

func (s *Store) JobProofs() ports.JobProofRepository {
	return &JobProofRepository{q: s.q}
}

func (s *Store) WebhookEvents() ports.WebhookEventRepository {
	return &WebhookEventRepository{q: s.q}
}

func (s *Store) ProviderAccounts() ports.ProviderAccountRepository {
	return &ProviderAccountRepository{q: s.q}
}

// WithinTx runs fn in a single transaction. A nested call reuses the
// outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// checkAffected turns a zero-row conditional update into errConflict.
func checkAffected(res sql.Result, errConflict error) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return errConflict
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func uuidPtr(nu uuid.NullUUID) *uuid.UUID {
	if !nu.Valid {
		return nil
	}
	id := nu.UUID
	return &id
}
