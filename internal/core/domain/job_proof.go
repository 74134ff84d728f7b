package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobProof struct {
	ID              uuid.UUID
	BookingID       uuid.UUID
	Photos          []string
	Notes           string
	CompletedAt     time.Time
	ClientConfirmed bool
	AutoConfirmed   bool
	AutoConfirmAt   time.Time
}

// NewJobProof fixes the auto-confirm deadline at submission.
func NewJobProof(bookingID uuid.UUID, photos []string, notes string, now time.Time, confirmAfter time.Duration) *JobProof {
	return &JobProof{
		ID:            uuid.New(),
		BookingID:     bookingID,
		Photos:        append([]string(nil), photos...),
		Notes:         notes,
		CompletedAt:   now,
		AutoConfirmAt: now.Add(confirmAfter),
	}
}

type CompletionSource string

const (
	CompletionClient  CompletionSource = "client"
	CompletionAuto    CompletionSource = "auto"
	CompletionDispute CompletionSource = "dispute"
)

type DisputeOutcome string

const (
	DisputeRelease DisputeOutcome = "RELEASE"
	DisputeRefund  DisputeOutcome = "REFUND"
)

func (o DisputeOutcome) Valid() bool {
	return o == DisputeRelease || o == DisputeRefund
}
