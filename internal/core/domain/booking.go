package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending              BookingStatus = "PENDING"
	BookingConfirmed            BookingStatus = "CONFIRMED"
	BookingPendingExecution     BookingStatus = "PENDING_EXECUTION"
	BookingInProgress           BookingStatus = "IN_PROGRESS"
	BookingAwaitingConfirmation BookingStatus = "AWAITING_CONFIRMATION"
	BookingCompleted            BookingStatus = "COMPLETED"
	BookingCancelled            BookingStatus = "CANCELLED"
	BookingDisputed             BookingStatus = "DISPUTED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:              {BookingConfirmed, BookingCancelled, BookingDisputed},
	BookingConfirmed:            {BookingPendingExecution, BookingCancelled, BookingDisputed},
	BookingPendingExecution:     {BookingInProgress, BookingCancelled, BookingDisputed},
	BookingInProgress:           {BookingAwaitingConfirmation, BookingDisputed},
	BookingAwaitingConfirmation: {BookingCompleted, BookingDisputed},
	// only an admin resolution leaves DISPUTED
	BookingDisputed: {BookingCompleted, BookingCancelled},
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingPendingExecution, BookingInProgress,
		BookingAwaitingConfirmation, BookingCompleted, BookingCancelled, BookingDisputed:
		return true
	}
	return false
}

// Funded reports whether a booking in this state must be backed by an escrowed payment.
func (s BookingStatus) Funded() bool {
	return s == BookingPendingExecution || s == BookingInProgress || s == BookingAwaitingConfirmation
}

func CanTransitionBooking(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CancellableStates lists the states a party may still cancel from; after
// the job has started, disputes replace cancellation.
func CancellableStates() []BookingStatus {
	return []BookingStatus{BookingPending, BookingConfirmed, BookingPendingExecution}
}

func DisputableStates() []BookingStatus {
	return []BookingStatus{
		BookingPending, BookingConfirmed, BookingPendingExecution,
		BookingInProgress, BookingAwaitingConfirmation,
	}
}

func BookingTransitionError(from, to BookingStatus) error {
	return &TransitionError{Entity: "booking", From: string(from), To: string(to)}
}

type Booking struct {
	ID              uuid.UUID
	ClientID        uuid.UUID
	ProviderID      uuid.UUID
	ServiceID       uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	TotalAmount     Money
	PlatformFee     Money
	Currency        Currency
	Address         string
	Status          BookingStatus
	CancelReason    string
	DisputeReason   string
	DisputedBy      *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ConfirmedAt     *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// BookingUpdate carries the optional columns written alongside a status CAS.
type BookingUpdate struct {
	At            time.Time
	CancelReason  string
	DisputeReason string
	DisputedBy    *uuid.UUID
}
