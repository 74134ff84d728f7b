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

type JobProofRepository struct {
	q queryer
}

func (r *JobProofRepository) Create(ctx context.Context, proof *domain.JobProof) error {
	query := `
	INSERT INTO job_proofs (id, booking_id, photos, notes, completed_at, client_confirmed, auto_confirmed, auto_confirm_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.q.ExecContext(ctx, query,
		proof.ID, proof.BookingID, pq.Array(proof.Photos), proof.Notes, proof.CompletedAt,
		proof.ClientConfirmed, proof.AutoConfirmed, proof.AutoConfirmAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("failed to insert job proof: %w", err)
	}

	return nil
}

func (r *JobProofRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.JobProof, error) {
	query := `
	SELECT id, booking_id, photos, notes, completed_at, client_confirmed, auto_confirmed, auto_confirm_at
	FROM job_proofs
	WHERE booking_id = $1
	`

	var p domain.JobProof
	err := r.q.QueryRowContext(ctx, query, bookingID).Scan(
		&p.ID,
		&p.BookingID,
		pq.Array(&p.Photos),
		&p.Notes,
		&p.CompletedAt,
		&p.ClientConfirmed,
		&p.AutoConfirmed,
		&p.AutoConfirmAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return &p, nil
}

// MarkConfirmed flags the proof as confirmed by the client or by the
// sweep. Only the first confirmation wins.
func (r *JobProofRepository) MarkConfirmed(ctx context.Context, bookingID uuid.UUID, source domain.CompletionSource) error {
	column := "client_confirmed"
	if source == domain.CompletionAuto {
		column = "auto_confirmed"
	}

	query := `
	UPDATE job_proofs
	SET ` + column + ` = TRUE
	WHERE booking_id = $1 AND client_confirmed = FALSE AND auto_confirmed = FALSE
	`

	result, err := r.q.ExecContext(ctx, query, bookingID)
	if err != nil {
		return err
	}

	return checkAffected(result, domain.ErrConflict)
}
