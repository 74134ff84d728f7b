package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerSnapshot is a read-only copy of every row the reconciliation checks
// look at. Payment and payout statuses are kept raw so legacy values survive.
type LedgerSnapshot struct {
	Bookings []Booking
	Payments []Payment
	Payouts  []Payout
	TakenAt  time.Time
}

type ViolationCode string

const (
	ViolationAmountSplit              ViolationCode = "AMOUNT_SPLIT"
	ViolationBookingPaymentAmount     ViolationCode = "BOOKING_PAYMENT_AMOUNT"
	ViolationOrphanPayment            ViolationCode = "ORPHAN_PAYMENT"
	ViolationDuplicatePayment         ViolationCode = "DUPLICATE_PAYMENT"
	ViolationReleasedNotCompleted     ViolationCode = "RELEASED_NOT_COMPLETED"
	ViolationEscrowStateMismatch      ViolationCode = "ESCROW_STATE_MISMATCH"
	ViolationCompletedUnpaid          ViolationCode = "COMPLETED_UNPAID"
	ViolationFundedStateWithoutEscrow ViolationCode = "FUNDED_STATE_WITHOUT_ESCROW"
	ViolationReleasedWithoutPayout    ViolationCode = "RELEASED_WITHOUT_PAYOUT"
	ViolationDuplicatePayout          ViolationCode = "DUPLICATE_PAYOUT"
	ViolationPayoutAmount             ViolationCode = "PAYOUT_AMOUNT"
	ViolationPayoutUnreleasedPayment  ViolationCode = "PAYOUT_UNRELEASED_PAYMENT"
	ViolationLegacyPaymentStatus      ViolationCode = "LEGACY_PAYMENT_STATUS"
)

// Violation is one operator-facing report entry. It is never acted on
// automatically.
type Violation struct {
	Code          ViolationCode `json:"code"`
	Message       string        `json:"message"`
	BookingID     *uuid.UUID    `json:"booking_id,omitempty"`
	PaymentID     *uuid.UUID    `json:"payment_id,omitempty"`
	PayoutID      *uuid.UUID    `json:"payout_id,omitempty"`
	BookingStatus string        `json:"booking_status,omitempty"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	PayoutStatus  string        `json:"payout_status,omitempty"`
	Expected      *Money        `json:"expected,omitempty"`
	Observed      *Money        `json:"observed,omitempty"`
}

type ReconciliationReport struct {
	GeneratedAt   time.Time   `json:"generated_at"`
	BookingsCount int         `json:"bookings_count"`
	PaymentsCount int         `json:"payments_count"`
	PayoutsCount  int         `json:"payouts_count"`
	Violations    []Violation `json:"violations"`
}

func (r *ReconciliationReport) Clean() bool {
	return len(r.Violations) == 0
}

func (r *ReconciliationReport) CountByCode() map[ViolationCode]int {
	counts := make(map[ViolationCode]int)
	for _, v := range r.Violations {
		counts[v.Code]++
	}
	return counts
}
