package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutSuccess PayoutStatus = "SUCCESS"
	PayoutFailed  PayoutStatus = "FAILED"
)

func CanTransitionPayout(from, to PayoutStatus) bool {
	return from == PayoutPending && (to == PayoutSuccess || to == PayoutFailed)
}

func PayoutTransitionError(from, to PayoutStatus) error {
	return &TransitionError{Entity: "payout", From: string(from), To: string(to)}
}

type Payout struct {
	ID            uuid.UUID
	PaymentID     uuid.UUID
	BookingID     uuid.UUID
	ProviderID    uuid.UUID
	Amount        Money
	Currency      Currency
	Status        PayoutStatus
	Reference     string
	TransferID    string
	Attempt       int
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     *time.Time
}

// NewPayout fixes the amount from the payment's escrow at creation time; it
// is never recomputed afterwards.
func NewPayout(payment *Payment, providerID uuid.UUID, attempt int, now time.Time) *Payout {
	return &Payout{
		ID:         uuid.New(),
		PaymentID:  payment.ID,
		BookingID:  payment.BookingID,
		ProviderID: providerID,
		Amount:     payment.EscrowAmount,
		Currency:   payment.Currency,
		Status:     PayoutPending,
		Reference:  "po_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Attempt:    attempt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type PayoutUpdate struct {
	At            time.Time
	FailureReason string
}
