package domain

import "time"

// Routing keys for domain events published on the escrow exchange.
const (
	EventBookingCreated              = "booking.created"
	EventBookingConfirmed            = "booking.confirmed"
	EventBookingStarted              = "booking.started"
	EventBookingAwaitingConfirmation = "booking.awaiting_confirmation"
	EventBookingCompleted            = "booking.completed"
	EventBookingCancelled            = "booking.cancelled"
	EventBookingDisputed             = "booking.disputed"

	EventPaymentEscrowed       = "payment.escrowed"
	EventPaymentFailed         = "payment.failed"
	EventPaymentReleased       = "payment.released"
	EventPaymentRefunded       = "payment.refunded"
	EventPaymentRefundRequired = "payment.refund_required"

	EventPayoutCreated   = "payout.created"
	EventPayoutSucceeded = "payout.succeeded"
	EventPayoutFailed    = "payout.failed"
)

type DomainEvent struct {
	Event      string         `json:"event"`
	Version    int            `json:"version"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

func NewDomainEvent(key string, at time.Time, data map[string]any) DomainEvent {
	return DomainEvent{
		Event:      key,
		Version:    1,
		OccurredAt: at.UTC().Format(time.RFC3339),
		Data:       data,
	}
}
