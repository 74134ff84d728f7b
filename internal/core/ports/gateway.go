package ports

import (
	"context"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// IdempotencyCache is a fast path in front of the webhook_events table. It
// may forget keys; the table is authoritative.
type IdempotencyCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

type TransferRequest struct {
	Reference   string
	RecipientID string
	Amount      domain.Money
	Currency    domain.Currency
}

// PayoutProvider sends transfers. A failed CreateTransfer may still have
// reached the provider, so callers check FindTransfer before sending again.
type PayoutProvider interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (transferID string, err error)
	// FindTransfer returns the id of a transfer sent with the reference, or
	// an error wrapping domain.ErrNotFound when there is none.
	FindTransfer(ctx context.Context, reference string) (transferID string, err error)
}
