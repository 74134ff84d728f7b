package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

type WebhookEventRepository struct {
	q queryer
}

// Record inserts the idempotency key for an external event. Called inside
// the transaction that applies the event, so a duplicate rolls back with it.
func (r *WebhookEventRepository) Record(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
	INSERT INTO webhook_events (provider, event_id, event_type, received_at)
	VALUES ($1, $2, $3, $4)
	`

	_, err := r.q.ExecContext(ctx, query, event.Provider, event.EventID, event.EventType, event.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to record webhook event: %w", err)
	}

	return nil
}

type ProviderAccountRepository struct {
	q queryer
}

func (r *ProviderAccountRepository) GetRecipient(ctx context.Context, providerID uuid.UUID) (string, error) {
	var recipient string

	err := r.q.QueryRowContext(ctx, `SELECT recipient_id FROM provider_accounts WHERE provider_id = $1`, providerID).Scan(&recipient)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}

	return recipient, nil
}
