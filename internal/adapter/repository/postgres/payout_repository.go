package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

const payoutColumns = `id, payment_id, booking_id, provider_id, amount, currency, status, reference,
	transfer_id, attempt, failure_reason, created_at, updated_at, settled_at`

type PayoutRepository struct {
	q queryer
}

// Create fails with domain.ErrConflict while another non-failed payout
// exists for the same payment.
func (r *PayoutRepository) Create(ctx context.Context, payout *domain.Payout) error {
	query := `
	INSERT INTO payouts (` + payoutColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q.ExecContext(ctx, query,
		payout.ID, payout.PaymentID, payout.BookingID, payout.ProviderID, payout.Amount,
		payout.Currency, payout.Status, payout.Reference, payout.TransferID, payout.Attempt,
		payout.FailureReason, payout.CreatedAt, payout.UpdatedAt, payout.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	return nil
}

func (r *PayoutRepository) getOne(ctx context.Context, where string, arg any) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE ` + where

	payout, err := scanPayout(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return payout, nil
}

func (r *PayoutRepository) GetByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	return r.getOne(ctx, "id = $1", payoutID)
}

func (r *PayoutRepository) GetByReference(ctx context.Context, reference string) (*domain.Payout, error) {
	return r.getOne(ctx, "reference = $1", reference)
}

func (r *PayoutRepository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE payment_id = $1 ORDER BY attempt`

	return r.list(ctx, query, paymentID)
}

func (r *PayoutRepository) TransitionStatus(ctx context.Context, payoutID uuid.UUID, from, to domain.PayoutStatus, upd domain.PayoutUpdate) error {
	query := `
	UPDATE payouts
	SET status = $1,
		updated_at = $2,
		settled_at = $2,
		failure_reason = COALESCE(NULLIF($3, ''), failure_reason)
	WHERE id = $4 AND status = $5
	`

	result, err := r.q.ExecContext(ctx, query, to, upd.At, upd.FailureReason, payoutID, from)
	if err != nil {
		return err
	}

	return checkAffected(result, domain.ErrConflict)
}

// SetTransferID records the provider's transfer id once.
func (r *PayoutRepository) SetTransferID(ctx context.Context, payoutID uuid.UUID, transferID string, at time.Time) error {
	query := `
	UPDATE payouts
	SET transfer_id = $1, updated_at = $2
	WHERE id = $3 AND status = 'PENDING' AND transfer_id = ''
	`

	result, err := r.q.ExecContext(ctx, query, transferID, at, payoutID)
	if err != nil {
		return err
	}

	return checkAffected(result, domain.ErrConflict)
}

func (r *PayoutRepository) ListUninitiated(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payout, error) {
	query := `
	SELECT ` + payoutColumns + ` FROM payouts
	WHERE status = 'PENDING' AND transfer_id = '' AND created_at <= $1
	ORDER BY created_at
	LIMIT $2
	`

	return r.list(ctx, query, createdBefore, limit)
}

func (r *PayoutRepository) list(ctx context.Context, query string, args ...any) ([]domain.Payout, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}

		payouts = append(payouts, *p)
	}

	return payouts, rows.Err()
}

func scanPayout(row rowScanner) (*domain.Payout, error) {
	var p domain.Payout
	var settledAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.PaymentID,
		&p.BookingID,
		&p.ProviderID,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.Reference,
		&p.TransferID,
		&p.Attempt,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&settledAt,
	)
	if err != nil {
		return nil, err
	}

	p.SettledAt = timePtr(settledAt)

	return &p, nil
}
