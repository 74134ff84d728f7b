package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/adapter/repository/memory"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports/mocks"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const autoConfirmAfter = 72 * time.Hour

type fixture struct {
	store    *memory.Store
	clock    *clock.Fake
	pub      *mocks.EventPublisher
	payouts  *services.PayoutService
	bookings *services.BookingService
	webhooks *services.WebhookService
	sweep    *services.SweepService

	client   domain.Actor
	provider domain.Actor
	admin    domain.Actor

	mu        sync.Mutex
	published []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewStore(),
		clock:    clock.NewFake(start),
		client:   domain.Actor{ID: uuid.New(), Role: domain.RoleClient},
		provider: domain.Actor{ID: uuid.New(), Role: domain.RoleProvider},
		admin:    domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}

	f.pub = mocks.NewEventPublisher(t)
	f.pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.published = append(f.published, args.String(1))
		}).
		Return(nil).
		Maybe()

	log := logger.Discard()

	f.payouts = services.NewPayoutService(f.store, nil, f.pub, f.clock, log, services.PayoutOptions{})
	f.bookings = services.NewBookingService(f.store, f.payouts, f.pub, f.clock, log, services.BookingOptions{
		PlatformFeeBps:   1000,
		AutoConfirmAfter: autoConfirmAfter,
	})
	f.webhooks = services.NewWebhookService(f.store, nil, f.pub, f.clock, log, time.Hour)
	f.sweep = services.NewSweepService(f.store, f.payouts, f.pub, f.clock, log, nil, services.SweepOptions{BatchSize: 50})

	return f
}

func (f *fixture) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published...)
}

func (f *fixture) createBooking(t *testing.T) uuid.UUID {
	t.Helper()

	view, err := f.bookings.Create(context.Background(), f.client, services.CreateBookingRequest{
		ProviderID:      f.provider.ID.String(),
		ServiceID:       uuid.NewString(),
		ScheduledAt:     start.Add(48 * time.Hour),
		DurationMinutes: 90,
		TotalAmount:     1000,
		Currency:        "USD",
		Address:         "12 Canal Street",
	})
	require.NoError(t, err)

	return view.Booking.ID
}

// acceptedBooking returns a CONFIRMED booking and its PENDING payment.
func (f *fixture) acceptedBooking(t *testing.T) (uuid.UUID, *domain.Payment) {
	t.Helper()

	id := f.createBooking(t)

	view, err := f.bookings.Accept(context.Background(), f.provider, id)
	require.NoError(t, err)
	require.NotNil(t, view.Payment)

	return id, view.Payment
}

// fundedBooking returns a PENDING_EXECUTION booking with its payment in escrow.
func (f *fixture) fundedBooking(t *testing.T) (uuid.UUID, *domain.Payment) {
	t.Helper()

	id, payment := f.acceptedBooking(t)

	outcome, err := f.webhooks.HandleCapture(context.Background(), captureEvent(payment, "evt_"+payment.Reference))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, outcome)

	return id, f.payment(t, id)
}

// awaitingBooking returns a booking with job proof submitted.
func (f *fixture) awaitingBooking(t *testing.T) uuid.UUID {
	t.Helper()

	id, _ := f.fundedBooking(t)

	_, err := f.bookings.Start(context.Background(), f.provider, id)
	require.NoError(t, err)

	_, err = f.bookings.SubmitProof(context.Background(), f.provider, id, services.SubmitProofRequest{
		Photos: []string{"https://cdn.example.com/proof/1.jpg"},
		Notes:  "done",
	})
	require.NoError(t, err)

	return id
}

func (f *fixture) booking(t *testing.T, id uuid.UUID) *domain.Booking {
	t.Helper()

	b, err := f.store.Bookings().GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) payment(t *testing.T, bookingID uuid.UUID) *domain.Payment {
	t.Helper()

	p, err := f.store.Payments().GetByBookingID(context.Background(), bookingID)
	require.NoError(t, err)
	return p
}

func (f *fixture) payoutsFor(t *testing.T, paymentID uuid.UUID) []domain.Payout {
	t.Helper()

	list, err := f.store.Payouts().ListByPaymentID(context.Background(), paymentID)
	require.NoError(t, err)
	return list
}

func captureEvent(p *domain.Payment, eventID string) domain.CaptureEvent {
	return domain.CaptureEvent{
		EventID:       eventID,
		Type:          domain.EventChargeSuccess,
		Reference:     p.Reference,
		TransactionID: "chrg_" + p.Reference,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaidAt:        start,
	}
}
