package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

const bookingColumns = `id, client_id, provider_id, service_id, scheduled_at, duration_minutes,
	total_amount, platform_fee, currency, address, status, cancel_reason, dispute_reason,
	disputed_by, created_at, updated_at, confirmed_at, started_at, completed_at`

type BookingRepository struct {
	q queryer
}

func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	query := `
	INSERT INTO bookings (` + bookingColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.q.ExecContext(ctx, query,
		booking.ID, booking.ClientID, booking.ProviderID, booking.ServiceID,
		booking.ScheduledAt, booking.DurationMinutes, booking.TotalAmount, booking.PlatformFee,
		booking.Currency, booking.Address, booking.Status, booking.CancelReason, booking.DisputeReason,
		booking.DisputedBy, booking.CreatedAt, booking.UpdatedAt,
		booking.ConfirmedAt, booking.StartedAt, booking.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(r.q.QueryRowContext(ctx, query, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return booking, nil
}

// TransitionStatus moves the booking to `to` only if it is still in one of
// `from`. Milestone timestamps are set once and never overwritten.
func (r *BookingRepository) TransitionStatus(ctx context.Context, bookingID uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus, upd domain.BookingUpdate) error {
	query := `
	UPDATE bookings
	SET status = $1,
		updated_at = $2,
		cancel_reason = COALESCE(NULLIF($3, ''), cancel_reason),
		dispute_reason = COALESCE(NULLIF($4, ''), dispute_reason),
		disputed_by = COALESCE($5, disputed_by),
		confirmed_at = COALESCE(confirmed_at, $6),
		started_at = COALESCE(started_at, $7),
		completed_at = COALESCE(completed_at, $8)
	WHERE id = $9 AND status = ANY($10)
	`

	var confirmedAt, startedAt, completedAt *time.Time
	switch to {
	case domain.BookingConfirmed:
		confirmedAt = &upd.At
	case domain.BookingInProgress:
		startedAt = &upd.At
	case domain.BookingCompleted:
		completedAt = &upd.At
	}

	expected := make([]string, len(from))
	for i, s := range from {
		expected[i] = string(s)
	}

	result, err := r.q.ExecContext(ctx, query,
		to, upd.At, upd.CancelReason, upd.DisputeReason, upd.DisputedBy,
		confirmedAt, startedAt, completedAt,
		bookingID, pq.Array(expected),
	)
	if err != nil {
		return err
	}

	return checkAffected(result, domain.ErrConflict)
}

// ListAutoConfirmDue returns bookings awaiting confirmation whose proof
// deadline has passed, oldest deadline first.
func (r *BookingRepository) ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
	SELECT b.id FROM bookings b
	JOIN job_proofs jp ON jp.booking_id = b.id
	WHERE b.status = 'AWAITING_CONFIRMATION'
		AND jp.client_confirmed = FALSE
		AND jp.auto_confirmed = FALSE
		AND jp.auto_confirm_at <= $1
	ORDER BY jp.auto_confirm_at
	LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var disputedBy uuid.NullUUID
	var confirmedAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&b.ID,
		&b.ClientID,
		&b.ProviderID,
		&b.ServiceID,
		&b.ScheduledAt,
		&b.DurationMinutes,
		&b.TotalAmount,
		&b.PlatformFee,
		&b.Currency,
		&b.Address,
		&b.Status,
		&b.CancelReason,
		&b.DisputeReason,
		&disputedBy,
		&b.CreatedAt,
		&b.UpdatedAt,
		&confirmedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	b.DisputedBy = uuidPtr(disputedBy)
	b.ConfirmedAt = timePtr(confirmedAt)
	b.StartedAt = timePtr(startedAt)
	b.CompletedAt = timePtr(completedAt)

	return &b, nil
}
