package domain

import "time"

type WebhookProvider string

const (
	ProviderGateway WebhookProvider = "gateway"
	ProviderPayouts WebhookProvider = "payouts"
)

// WebhookEvent is the idempotency record for an external event; (Provider,
// EventID) is unique.
type WebhookEvent struct {
	Provider   WebhookProvider
	EventID    string
	EventType  string
	ReceivedAt time.Time
}

const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventTransferSuccess = "transfer.success"
	EventTransferFailed  = "transfer.failed"
)

// CaptureEvent is the validated content of a payment gateway callback.
type CaptureEvent struct {
	EventID       string
	Type          string
	Reference     string
	TransactionID string
	Amount        Money
	Currency      Currency
	PaidAt        time.Time
	Reason        string
}

func (e CaptureEvent) Succeeded() bool {
	return e.Type == EventChargeSuccess
}

// TransferEvent is the validated content of a payout provider callback.
type TransferEvent struct {
	EventID    string
	Type       string
	Reference  string
	TransferID string
	Reason     string
}

func (e TransferEvent) Succeeded() bool {
	return e.Type == EventTransferSuccess
}

type WebhookOutcome string

const (
	OutcomeApplied   WebhookOutcome = "applied"
	OutcomeDuplicate WebhookOutcome = "duplicate"
	OutcomeIgnored   WebhookOutcome = "ignored"
)
