package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
)

// Status transitions are compare-and-swap updates: they return
// domain.ErrConflict when the row was not in one of the expected states.

type BookingRepository interface {
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	TransitionStatus(ctx context.Context, bookingID uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus, upd domain.BookingUpdate) error
	ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	GetByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error)
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)
	TransitionStatus(ctx context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, upd domain.PaymentUpdate) error
	ListNonCanonical(ctx context.Context) ([]domain.Payment, error)
	RewriteStatus(ctx context.Context, paymentID uuid.UUID, raw string, to domain.PaymentStatus) (bool, error)
}

type PayoutRepository interface {
	Create(ctx context.Context, payout *domain.Payout) error
	GetByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error)
	GetByReference(ctx context.Context, reference string) (*domain.Payout, error)
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Payout, error)
	TransitionStatus(ctx context.Context, payoutID uuid.UUID, from, to domain.PayoutStatus, upd domain.PayoutUpdate) error
	SetTransferID(ctx context.Context, payoutID uuid.UUID, transferID string, at time.Time) error
	ListUninitiated(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payout, error)
}

type JobProofRepository interface {
	Create(ctx context.Context, proof *domain.JobProof) error
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.JobProof, error)
	MarkConfirmed(ctx context.Context, bookingID uuid.UUID, source domain.CompletionSource) error
}

type WebhookEventRepository interface {
	// Record returns domain.ErrDuplicateEvent when the key already exists.
	Record(ctx context.Context, event *domain.WebhookEvent) error
}

type ProviderAccountRepository interface {
	GetRecipient(ctx context.Context, providerID uuid.UUID) (string, error)
}

type LedgerReader interface {
	Snapshot(ctx context.Context) (*domain.LedgerSnapshot, error)
}

// Store groups the repositories so that multi-entity transitions commit
// together. Inside WithinTx, fn must only use the Store it is given.
type Store interface {
	Bookings() BookingRepository
	Payments() PaymentRepository
	Payouts() PayoutRepository
	JobProofs() JobProofRepository
	WebhookEvents() WebhookEventRepository
	ProviderAccounts() ProviderAccountRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
