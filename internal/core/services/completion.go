package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
)

// completer is the single path to COMPLETED shared by client confirmation,
// the auto-confirm sweep and dispute resolution. Whichever caller wins the
// booking CAS releases the escrow and creates the payout; every other caller
// gets domain.ErrConflict and changes nothing.
type completer struct {
	store   ports.Store
	payouts *PayoutService
	events  eventSink
	clock   clock.Clock
	log     *slog.Logger
}

type completion struct {
	Booking domain.Booking
	Payment domain.Payment
	Payout  domain.Payout
}

func (c *completer) complete(ctx context.Context, bookingID uuid.UUID, from domain.BookingStatus, source domain.CompletionSource) (*completion, error) {
	now := c.clock.Now()
	var out completion

	err := c.store.WithinTx(ctx, func(tx ports.Store) error {
		booking, err := tx.Bookings().GetByID(ctx, bookingID)
		if err != nil {
			return err
		}

		if booking.Status != from {
			return domain.ErrConflict
		}

		payment, err := tx.Payments().GetByBookingID(ctx, bookingID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.PaymentTransitionError("NONE", domain.PaymentReleased)
			}
			return err
		}

		if payment.Status != domain.PaymentEscrow {
			return domain.PaymentTransitionError(payment.Status, domain.PaymentReleased)
		}

		if err := tx.Bookings().TransitionStatus(ctx, bookingID, []domain.BookingStatus{from}, domain.BookingCompleted, domain.BookingUpdate{At: now}); err != nil {
			return err
		}

		if source != domain.CompletionDispute {
			if err := tx.JobProofs().MarkConfirmed(ctx, bookingID, source); err != nil {
				return fmt.Errorf("failed to mark job proof confirmed: %w", err)
			}
		}

		if err := tx.Payments().TransitionStatus(ctx, payment.ID, domain.PaymentEscrow, domain.PaymentReleased, domain.PaymentUpdate{At: now}); err != nil {
			return err
		}

		payout := domain.NewPayout(payment, booking.ProviderID, 1, now)
		if err := tx.Payouts().Create(ctx, payout); err != nil {
			return fmt.Errorf("failed to create payout: %w", err)
		}

		booking.Status = domain.BookingCompleted
		booking.CompletedAt = &now
		payment.Status = domain.PaymentReleased
		payment.ReleasedAt = &now

		out = completion{Booking: *booking, Payment: *payment, Payout: *payout}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.InfoContext(ctx, "booking completed and escrow released",
		"booking_id", bookingID, "payment_id", out.Payment.ID, "payout_id", out.Payout.ID,
		"source", string(source), "amount", int64(out.Payout.Amount))

	c.events.publish(ctx,
		bookingEvent(domain.EventBookingCompleted, &out.Booking, now),
		paymentEvent(domain.EventPaymentReleased, &out.Payment, now),
		payoutEvent(domain.EventPayoutCreated, &out.Payout, now),
	)

	if c.payouts != nil {
		c.payouts.Enqueue(out.Payout.ID)
	}

	return &out, nil
}

// cancelInTx moves the booking to CANCELLED and refunds an escrowed payment
// in the caller's transaction. It returns the refunded payment, if any.
func cancelInTx(ctx context.Context, tx ports.Store, booking *domain.Booking, reason string, now time.Time) (*domain.Payment, error) {
	upd := domain.BookingUpdate{At: now, CancelReason: reason}
	if err := tx.Bookings().TransitionStatus(ctx, booking.ID, []domain.BookingStatus{booking.Status}, domain.BookingCancelled, upd); err != nil {
		return nil, err
	}

	payment, err := tx.Payments().GetByBookingID(ctx, booking.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if payment.Status != domain.PaymentEscrow {
		return nil, nil
	}

	if err := tx.Payments().TransitionStatus(ctx, payment.ID, domain.PaymentEscrow, domain.PaymentRefunded, domain.PaymentUpdate{At: now}); err != nil {
		return nil, err
	}

	payment.Status = domain.PaymentRefunded
	return payment, nil
}

// refundEvents tells downstream consumers that money must go back to the
// client; the refund itself is issued outside this service.
func refundEvents(p *domain.Payment, at time.Time) []domain.DomainEvent {
	return []domain.DomainEvent{
		paymentEvent(domain.EventPaymentRefunded, p, at),
		paymentEvent(domain.EventPaymentRefundRequired, p, at),
	}
}
