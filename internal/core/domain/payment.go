package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentEscrow   PaymentStatus = "ESCROW"
	PaymentReleased PaymentStatus = "RELEASED"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentEscrow, PaymentFailed},
	PaymentEscrow:  {PaymentReleased, PaymentRefunded},
}

func (s PaymentStatus) Canonical() bool {
	switch s {
	case PaymentPending, PaymentEscrow, PaymentReleased, PaymentRefunded, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentReleased || s == PaymentRefunded || s == PaymentFailed
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func PaymentTransitionError(from, to PaymentStatus) error {
	return &TransitionError{Entity: "payment", From: string(from), To: string(to)}
}

// DefaultLegacyPaymentStatuses maps superseded status values found in old rows.
// Legacy COMPLETED is intentionally absent: whether it meant funds held or
// funds released must come from the operator, not from a guess.
func DefaultLegacyPaymentStatuses() map[string]PaymentStatus {
	return map[string]PaymentStatus{
		"HELD_IN_ESCROW":     PaymentEscrow,
		"PROCESSING_RELEASE": PaymentEscrow,
	}
}

// NormalizePaymentStatus resolves a stored value to the canonical enum.
// Case-only variants of canonical names resolve on their own; everything else
// must be named in mapping (keys compared case-insensitively).
func NormalizePaymentStatus(raw string, mapping map[string]PaymentStatus) (PaymentStatus, bool) {
	upper := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if upper.Canonical() {
		return upper, true
	}

	for legacy, target := range mapping {
		if strings.EqualFold(legacy, string(upper)) && target.Canonical() {
			return target, true
		}
	}

	return "", false
}

type Payment struct {
	ID                   uuid.UUID
	BookingID            uuid.UUID
	Status               PaymentStatus
	Amount               Money
	EscrowAmount         Money
	PlatformFee          Money
	Currency             Currency
	Reference            string
	GatewayTransactionID string
	FailureReason        string
	PaidAt               *time.Time
	ReleasedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func NewPayment(booking *Booking, now time.Time) *Payment {
	return &Payment{
		ID:           uuid.New(),
		BookingID:    booking.ID,
		Status:       PaymentPending,
		Amount:       booking.TotalAmount,
		EscrowAmount: booking.TotalAmount - booking.PlatformFee,
		PlatformFee:  booking.PlatformFee,
		Currency:     booking.Currency,
		Reference:    "pay_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (p *Payment) SplitBalanced() bool {
	return p.EscrowAmount+p.PlatformFee == p.Amount
}

// PaymentUpdate carries the optional columns written alongside a status CAS.
type PaymentUpdate struct {
	At                   time.Time
	GatewayTransactionID string
	FailureReason        string
	PaidAt               *time.Time
}
