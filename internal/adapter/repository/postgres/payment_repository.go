package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

const paymentColumns = `id, booking_id, status, amount, escrow_amount, platform_fee, currency,
	reference, gateway_transaction_id, failure_reason, paid_at, released_at, created_at, updated_at`

var canonicalPaymentStatuses = []string{
	string(domain.PaymentPending),
	string(domain.PaymentEscrow),
	string(domain.PaymentReleased),
	string(domain.PaymentRefunded),
	string(domain.PaymentFailed),
}

type PaymentRepository struct {
	q queryer
}

func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
	INSERT INTO payments (` + paymentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.q.ExecContext(ctx, query,
		payment.ID, payment.BookingID, payment.Status, payment.Amount, payment.EscrowAmount,
		payment.PlatformFee, payment.Currency, payment.Reference, payment.GatewayTransactionID,
		payment.FailureReason, payment.PaidAt, payment.ReleasedAt, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}

	return nil
}

func (r *PaymentRepository) getOne(ctx context.Context, where string, arg any) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + where

	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return r.getOne(ctx, "id = $1", paymentID)
}

func (r *PaymentRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	return r.getOne(ctx, "booking_id = $1", bookingID)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return r.getOne(ctx, "reference = $1", reference)
}

func (r *PaymentRepository) TransitionStatus(ctx context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, upd domain.PaymentUpdate) error {
	query := `
	UPDATE payments
	SET status = $1,
		updated_at = $2,
		gateway_transaction_id = COALESCE(NULLIF($3, ''), gateway_transaction_id),
		failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
		paid_at = COALESCE($5, paid_at),
		released_at = COALESCE(released_at, $6)
	WHERE id = $7 AND status = $8
	`

	var releasedAt any
	if to == domain.PaymentReleased {
		releasedAt = upd.At
	}

	result, err := r.q.ExecContext(ctx, query,
		to, upd.At, upd.GatewayTransactionID, upd.FailureReason, upd.PaidAt, releasedAt,
		paymentID, from,
	)
	if err != nil {
		return err
	}

	return checkAffected(result, domain.ErrConflict)
}

// ListNonCanonical returns payments whose stored status is not exactly one
// of the canonical values, including case variants.
func (r *PaymentRepository) ListNonCanonical(ctx context.Context) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE NOT (status = ANY($1)) ORDER BY created_at`

	rows, err := r.q.QueryContext(ctx, query, pq.Array(canonicalPaymentStatuses))
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}

		payments = append(payments, *p)
	}

	return payments, rows.Err()
}

// RewriteStatus swaps a raw status for its canonical value. It reports
// false if the row changed since it was read.
func (r *PaymentRepository) RewriteStatus(ctx context.Context, paymentID uuid.UUID, raw string, to domain.PaymentStatus) (bool, error) {
	query := `UPDATE payments SET status = $1 WHERE id = $2 AND status = $3`

	result, err := r.q.ExecContext(ctx, query, to, paymentID, raw)
	if err != nil {
		return false, err
	}

	if err := checkAffected(result, domain.ErrConflict); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var paidAt, releasedAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.BookingID,
		&p.Status,
		&p.Amount,
		&p.EscrowAmount,
		&p.PlatformFee,
		&p.Currency,
		&p.Reference,
		&p.GatewayTransactionID,
		&p.FailureReason,
		&paidAt,
		&releasedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.PaidAt = timePtr(paidAt)
	p.ReleasedAt = timePtr(releasedAt)

	return &p, nil
}
