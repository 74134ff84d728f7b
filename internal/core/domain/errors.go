package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrDuplicateEvent        = errors.New("duplicate event")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrExternalService       = errors.New("external service error")

	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict: row modified concurrently")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation failed")
	ErrAmountMismatch = errors.New("amount mismatch")
)

// TransitionError reports a command rejected by a state machine.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s cannot move from %s to %s", ErrInvalidTransition, e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
