package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

// eventSink publishes domain events after the transaction that produced
// them has committed. A failed publish is logged and otherwise ignored.
type eventSink struct {
	pub ports.EventPublisher
	log *slog.Logger
}

func (s eventSink) publish(ctx context.Context, events ...domain.DomainEvent) {
	if s.pub == nil {
		return
	}

	for _, ev := range events {
		if err := s.pub.PublishJSON(ctx, ev.Event, ev); err != nil {
			s.log.WarnContext(ctx, "failed to publish domain event", "event", ev.Event, "error", err)
		}
	}
}

func bookingEvent(key string, b *domain.Booking, at time.Time) domain.DomainEvent {
	return domain.NewDomainEvent(key, at, map[string]any{
		"booking_id":  b.ID.String(),
		"client_id":   b.ClientID.String(),
		"provider_id": b.ProviderID.String(),
		"status":      string(b.Status),
	})
}

func paymentEvent(key string, p *domain.Payment, at time.Time) domain.DomainEvent {
	return domain.NewDomainEvent(key, at, map[string]any{
		"payment_id":    p.ID.String(),
		"booking_id":    p.BookingID.String(),
		"status":        string(p.Status),
		"amount":        int64(p.Amount),
		"escrow_amount": int64(p.EscrowAmount),
		"platform_fee":  int64(p.PlatformFee),
		"currency":      string(p.Currency),
		"reference":     p.Reference,
	})
}

func payoutEvent(key string, p *domain.Payout, at time.Time) domain.DomainEvent {
	return domain.NewDomainEvent(key, at, map[string]any{
		"payout_id":   p.ID.String(),
		"payment_id":  p.PaymentID.String(),
		"booking_id":  p.BookingID.String(),
		"provider_id": p.ProviderID.String(),
		"status":      string(p.Status),
		"amount":      int64(p.Amount),
		"currency":    string(p.Currency),
		"reference":   p.Reference,
		"attempt":     p.Attempt,
	})
}
