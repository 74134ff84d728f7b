package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
)

// WebhookService applies verified gateway and payout-provider events.
// Every event is applied in one transaction that also records its
// (provider, event id) key, so a redelivery changes nothing.
type WebhookService struct {
	store  ports.Store
	cache  ports.IdempotencyCache
	events eventSink
	clock  clock.Clock
	log    *slog.Logger
	ttl    time.Duration
}

// NewWebhookService accepts a nil cache; the webhook_events table alone is
// enough for correctness.
func NewWebhookService(store ports.Store, cache ports.IdempotencyCache, pub ports.EventPublisher, clk clock.Clock, log *slog.Logger, ttl time.Duration) *WebhookService {
	return &WebhookService{
		store:  store,
		cache:  cache,
		events: eventSink{pub: pub, log: log},
		clock:  clk,
		log:    log,
		ttl:    ttl,
	}
}

func idempotencyKey(provider domain.WebhookProvider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

func (s *WebhookService) HandleCapture(ctx context.Context, ev domain.CaptureEvent) (domain.WebhookOutcome, error) {
	if ev.Type != domain.EventChargeSuccess && ev.Type != domain.EventChargeFailed {
		s.log.InfoContext(ctx, "ignoring gateway event", "event_id", ev.EventID, "type", ev.Type)
		return domain.OutcomeIgnored, nil
	}

	key := idempotencyKey(domain.ProviderGateway, ev.EventID)
	if s.seen(ctx, key) {
		s.log.DebugContext(ctx, "duplicate gateway event", "event_id", ev.EventID, "source", "cache")
		return domain.OutcomeDuplicate, nil
	}

	now := s.clock.Now()
	var published []domain.DomainEvent

	err := s.store.WithinTx(ctx, func(tx ports.Store) error {
		published = nil

		if err := tx.WebhookEvents().Record(ctx, &domain.WebhookEvent{
			Provider:   domain.ProviderGateway,
			EventID:    ev.EventID,
			EventType:  ev.Type,
			ReceivedAt: now,
		}); err != nil {
			return err
		}

		payment, err := tx.Payments().GetByReference(ctx, ev.Reference)
		if err != nil {
			return fmt.Errorf("payment %q: %w", ev.Reference, err)
		}

		booking, err := tx.Bookings().GetByID(ctx, payment.BookingID)
		if err != nil {
			return err
		}

		if ev.Succeeded() {
			published, err = s.applyCapture(ctx, tx, ev, payment, booking, now)
		} else {
			published, err = s.applyCaptureFailure(ctx, tx, ev, payment, booking, now)
		}
		return err
	})

	return s.finish(ctx, key, ev.EventID, err, published)
}

func (s *WebhookService) applyCapture(ctx context.Context, tx ports.Store, ev domain.CaptureEvent, payment *domain.Payment, booking *domain.Booking, now time.Time) ([]domain.DomainEvent, error) {
	if payment.Status != domain.PaymentPending {
		// the same capture reported again under a new event id
		if payment.Status != domain.PaymentFailed && payment.GatewayTransactionID == ev.TransactionID {
			return nil, domain.ErrDuplicateEvent
		}
		return nil, domain.PaymentTransitionError(payment.Status, domain.PaymentEscrow)
	}

	if ev.Amount != payment.Amount || ev.Currency != payment.Currency {
		return nil, fmt.Errorf("%w: captured %d %s, expected %d %s",
			domain.ErrAmountMismatch, ev.Amount, ev.Currency, payment.Amount, payment.Currency)
	}

	paidAt := ev.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}

	switch booking.Status {
	case domain.BookingConfirmed:
		if err := tx.Bookings().TransitionStatus(ctx, booking.ID, []domain.BookingStatus{domain.BookingConfirmed}, domain.BookingPendingExecution, domain.BookingUpdate{At: now}); err != nil {
			return nil, err
		}
	case domain.BookingCancelled, domain.BookingDisputed:
		// funds are captured regardless; see below
	default:
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingPendingExecution)
	}

	upd := domain.PaymentUpdate{At: now, GatewayTransactionID: ev.TransactionID, PaidAt: &paidAt}
	if err := tx.Payments().TransitionStatus(ctx, payment.ID, domain.PaymentPending, domain.PaymentEscrow, upd); err != nil {
		return nil, err
	}

	payment.Status = domain.PaymentEscrow
	payment.GatewayTransactionID = ev.TransactionID
	payment.PaidAt = &paidAt

	if booking.Status == domain.BookingCancelled {
		// money arrived for a booking that no longer exists
		if err := tx.Payments().TransitionStatus(ctx, payment.ID, domain.PaymentEscrow, domain.PaymentRefunded, domain.PaymentUpdate{At: now}); err != nil {
			return nil, err
		}
		payment.Status = domain.PaymentRefunded

		s.log.WarnContext(ctx, "capture for cancelled booking, refund required", "booking_id", booking.ID, "payment_id", payment.ID)
		return refundEvents(payment, now), nil
	}

	return []domain.DomainEvent{paymentEvent(domain.EventPaymentEscrowed, payment, now)}, nil
}

func (s *WebhookService) applyCaptureFailure(ctx context.Context, tx ports.Store, ev domain.CaptureEvent, payment *domain.Payment, booking *domain.Booking, now time.Time) ([]domain.DomainEvent, error) {
	if payment.Status == domain.PaymentFailed {
		return nil, domain.ErrDuplicateEvent
	}

	if payment.Status != domain.PaymentPending {
		return nil, domain.PaymentTransitionError(payment.Status, domain.PaymentFailed)
	}

	reason := ev.Reason
	if reason == "" {
		reason = "capture failed"
	}

	events := []domain.DomainEvent{}

	if booking.Status == domain.BookingConfirmed {
		upd := domain.BookingUpdate{At: now, CancelReason: "payment failed: " + reason}
		if err := tx.Bookings().TransitionStatus(ctx, booking.ID, []domain.BookingStatus{domain.BookingConfirmed}, domain.BookingCancelled, upd); err != nil {
			return nil, err
		}
		booking.Status = domain.BookingCancelled
		events = append(events, bookingEvent(domain.EventBookingCancelled, booking, now))
	}

	upd := domain.PaymentUpdate{At: now, GatewayTransactionID: ev.TransactionID, FailureReason: reason}
	if err := tx.Payments().TransitionStatus(ctx, payment.ID, domain.PaymentPending, domain.PaymentFailed, upd); err != nil {
		return nil, err
	}
	payment.Status = domain.PaymentFailed

	return append([]domain.DomainEvent{paymentEvent(domain.EventPaymentFailed, payment, now)}, events...), nil
}

// HandleTransfer settles a payout. A failed payout leaves the payment
// untouched; an admin retry creates a new payout row.
func (s *WebhookService) HandleTransfer(ctx context.Context, ev domain.TransferEvent) (domain.WebhookOutcome, error) {
	if ev.Type != domain.EventTransferSuccess && ev.Type != domain.EventTransferFailed {
		s.log.InfoContext(ctx, "ignoring payout event", "event_id", ev.EventID, "type", ev.Type)
		return domain.OutcomeIgnored, nil
	}

	key := idempotencyKey(domain.ProviderPayouts, ev.EventID)
	if s.seen(ctx, key) {
		s.log.DebugContext(ctx, "duplicate payout event", "event_id", ev.EventID, "source", "cache")
		return domain.OutcomeDuplicate, nil
	}

	target := domain.PayoutFailed
	if ev.Succeeded() {
		target = domain.PayoutSuccess
	}

	now := s.clock.Now()
	var published []domain.DomainEvent

	err := s.store.WithinTx(ctx, func(tx ports.Store) error {
		published = nil

		if err := tx.WebhookEvents().Record(ctx, &domain.WebhookEvent{
			Provider:   domain.ProviderPayouts,
			EventID:    ev.EventID,
			EventType:  ev.Type,
			ReceivedAt: now,
		}); err != nil {
			return err
		}

		payout, err := tx.Payouts().GetByReference(ctx, ev.Reference)
		if err != nil {
			return fmt.Errorf("payout %q: %w", ev.Reference, err)
		}

		if payout.Status == target {
			return domain.ErrDuplicateEvent
		}

		if !domain.CanTransitionPayout(payout.Status, target) {
			return domain.PayoutTransitionError(payout.Status, target)
		}

		if ev.TransferID != "" && payout.TransferID == "" {
			if err := tx.Payouts().SetTransferID(ctx, payout.ID, ev.TransferID, now); err != nil {
				return err
			}
			payout.TransferID = ev.TransferID
		}

		if err := tx.Payouts().TransitionStatus(ctx, payout.ID, domain.PayoutPending, target, domain.PayoutUpdate{At: now, FailureReason: ev.Reason}); err != nil {
			return err
		}

		payout.Status = target
		payout.FailureReason = ev.Reason

		routingKey := domain.EventPayoutSucceeded
		if target == domain.PayoutFailed {
			routingKey = domain.EventPayoutFailed
			s.log.WarnContext(ctx, "payout failed", "payout_id", payout.ID, "payment_id", payout.PaymentID, "reason", ev.Reason)
		}
		published = []domain.DomainEvent{payoutEvent(routingKey, payout, now)}

		return nil
	})

	return s.finish(ctx, key, ev.EventID, err, published)
}

func (s *WebhookService) finish(ctx context.Context, key, eventID string, err error, published []domain.DomainEvent) (domain.WebhookOutcome, error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		s.log.DebugContext(ctx, "duplicate webhook event", "event_id", eventID, "source", "store")
		s.remember(ctx, key)
		return domain.OutcomeDuplicate, nil
	case err != nil:
		return "", err
	}

	s.remember(ctx, key)
	s.events.publish(ctx, published...)

	return domain.OutcomeApplied, nil
}

func (s *WebhookService) seen(ctx context.Context, key string) bool {
	if s.cache == nil {
		return false
	}

	ok, err := s.cache.Seen(ctx, key)
	if err != nil {
		s.log.WarnContext(ctx, "idempotency cache unavailable", "error", err)
		return false
	}

	return ok
}

func (s *WebhookService) remember(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Remember(ctx, key, s.ttl); err != nil {
		s.log.WarnContext(ctx, "failed to cache idempotency key", "key", key, "error", err)
	}
}
