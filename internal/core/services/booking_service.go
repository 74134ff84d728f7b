package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
)

const (
	maxProofPhotos  = 20
	maxReasonLength = 1000
)

type CreateBookingRequest struct {
	ProviderID      string    `json:"provider_id"`
	ServiceID       string    `json:"service_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	TotalAmount     int64     `json:"total_amount"`
	Currency        string    `json:"currency"`
	Address         string    `json:"address"`
}

type SubmitProofRequest struct {
	Photos []string `json:"photos"`
	Notes  string   `json:"notes"`
}

// BookingView is the last committed state of a booking and everything
// hanging off it.
type BookingView struct {
	Booking domain.Booking
	Payment *domain.Payment
	Payouts []domain.Payout
	Proof   *domain.JobProof
}

type BookingOptions struct {
	PlatformFeeBps   int64
	AutoConfirmAfter time.Duration
}

type BookingService struct {
	store     ports.Store
	completer *completer
	events    eventSink
	clock     clock.Clock
	log       *slog.Logger
	opts      BookingOptions
}

func NewBookingService(store ports.Store, payouts *PayoutService, pub ports.EventPublisher, clk clock.Clock, log *slog.Logger, opts BookingOptions) *BookingService {
	events := eventSink{pub: pub, log: log}

	return &BookingService{
		store:     store,
		completer: &completer{store: store, payouts: payouts, events: events, clock: clk, log: log},
		events:    events,
		clock:     clk,
		log:       log,
		opts:      opts,
	}
}

func (s *BookingService) Create(ctx context.Context, actor domain.Actor, req CreateBookingRequest) (*BookingView, error) {
	if actor.Role != domain.RoleClient {
		return nil, forbidden("only clients can create bookings")
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		return nil, invalid("invalid provider id")
	}

	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		return nil, invalid("invalid service id")
	}

	if providerID == actor.ID {
		return nil, invalid("client and provider must differ")
	}

	if req.ScheduledAt.IsZero() {
		return nil, invalid("scheduled_at is required")
	}

	if req.DurationMinutes <= 0 {
		return nil, invalid("duration_minutes must be positive")
	}

	currency, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		return nil, err
	}

	_, fee, err := domain.SplitFee(domain.Money(req.TotalAmount), s.opts.PlatformFeeBps)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	booking := &domain.Booking{
		ID:              uuid.New(),
		ClientID:        actor.ID,
		ProviderID:      providerID,
		ServiceID:       serviceID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		TotalAmount:     domain.Money(req.TotalAmount),
		PlatformFee:     fee,
		Currency:        currency,
		Address:         strings.TrimSpace(req.Address),
		Status:          domain.BookingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.Bookings().Create(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.log.InfoContext(ctx, "booking created", "booking_id", booking.ID, "total_amount", req.TotalAmount, "platform_fee", int64(fee))
	s.events.publish(ctx, bookingEvent(domain.EventBookingCreated, booking, now))

	return &BookingView{Booking: *booking}, nil
}

// Accept confirms the booking and opens its payment in the same
// transaction. The payment stays PENDING until the gateway reports capture.
func (s *BookingService) Accept(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*BookingView, error) {
	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role != domain.RoleProvider || booking.ProviderID != actor.ID {
		return nil, forbidden("only the booked provider can accept")
	}

	if !domain.CanTransitionBooking(booking.Status, domain.BookingConfirmed) {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingConfirmed)
	}

	now := s.clock.Now()
	payment := domain.NewPayment(booking, now)

	err = s.store.WithinTx(ctx, func(tx ports.Store) error {
		if err := tx.Bookings().TransitionStatus(ctx, bookingID, []domain.BookingStatus{booking.Status}, domain.BookingConfirmed, domain.BookingUpdate{At: now}); err != nil {
			return err
		}

		if err := tx.Payments().Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingConfirmed
	s.log.InfoContext(ctx, "booking accepted", "booking_id", bookingID, "payment_reference", payment.Reference)
	s.events.publish(ctx, bookingEvent(domain.EventBookingConfirmed, booking, now))

	return s.view(ctx, bookingID)
}

// Start requires the escrow to be funded.
func (s *BookingService) Start(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*BookingView, error) {
	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role != domain.RoleProvider || booking.ProviderID != actor.ID {
		return nil, forbidden("only the booked provider can start the job")
	}

	if !domain.CanTransitionBooking(booking.Status, domain.BookingInProgress) {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingInProgress)
	}

	payment, err := s.store.Payments().GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if payment.Status != domain.PaymentEscrow {
		return nil, fmt.Errorf("%w: payment is %s, escrow not funded", domain.ErrInvalidTransition, payment.Status)
	}

	now := s.clock.Now()
	if err := s.store.Bookings().TransitionStatus(ctx, bookingID, []domain.BookingStatus{booking.Status}, domain.BookingInProgress, domain.BookingUpdate{At: now}); err != nil {
		return nil, err
	}

	booking.Status = domain.BookingInProgress
	s.events.publish(ctx, bookingEvent(domain.EventBookingStarted, booking, now))

	return s.view(ctx, bookingID)
}

// SubmitProof fixes the auto-confirm deadline at submission time.
func (s *BookingService) SubmitProof(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, req SubmitProofRequest) (*BookingView, error) {
	photos := make([]string, 0, len(req.Photos))
	for _, p := range req.Photos {
		if p = strings.TrimSpace(p); p != "" {
			photos = append(photos, p)
		}
	}

	if len(photos) == 0 {
		return nil, invalid("at least one photo is required")
	}

	if len(photos) > maxProofPhotos {
		return nil, invalid(fmt.Sprintf("at most %d photos are allowed", maxProofPhotos))
	}

	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role != domain.RoleProvider || booking.ProviderID != actor.ID {
		return nil, forbidden("only the booked provider can submit proof")
	}

	if !domain.CanTransitionBooking(booking.Status, domain.BookingAwaitingConfirmation) {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingAwaitingConfirmation)
	}

	now := s.clock.Now()
	proof := domain.NewJobProof(bookingID, photos, strings.TrimSpace(req.Notes), now, s.opts.AutoConfirmAfter)

	err = s.store.WithinTx(ctx, func(tx ports.Store) error {
		if err := tx.Bookings().TransitionStatus(ctx, bookingID, []domain.BookingStatus{booking.Status}, domain.BookingAwaitingConfirmation, domain.BookingUpdate{At: now}); err != nil {
			return err
		}

		if err := tx.JobProofs().Create(ctx, proof); err != nil {
			return fmt.Errorf("failed to store job proof: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingAwaitingConfirmation
	s.log.InfoContext(ctx, "job proof submitted", "booking_id", bookingID, "auto_confirm_at", proof.AutoConfirmAt)
	s.events.publish(ctx, bookingEvent(domain.EventBookingAwaitingConfirmation, booking, now))

	return s.view(ctx, bookingID)
}

// Confirm is the client's early confirmation. It races the auto-confirm
// sweep on the same conditional update.
func (s *BookingService) Confirm(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*BookingView, error) {
	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if actor.Role != domain.RoleClient || booking.ClientID != actor.ID {
		return nil, forbidden("only the booking client can confirm completion")
	}

	if booking.Status != domain.BookingAwaitingConfirmation {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingCompleted)
	}

	if _, err := s.completer.complete(ctx, bookingID, domain.BookingAwaitingConfirmation, domain.CompletionClient); err != nil {
		return nil, err
	}

	return s.view(ctx, bookingID)
}

// Cancel is only possible before the job starts. Escrowed funds are
// marked REFUNDED in the same transaction.
func (s *BookingService) Cancel(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string) (*BookingView, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		return nil, invalid("reason is too long")
	}

	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !isParty(actor, booking) {
		return nil, forbidden("only the client or provider can cancel")
	}

	if !slices.Contains(domain.CancellableStates(), booking.Status) {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingCancelled)
	}

	if reason == "" {
		reason = fmt.Sprintf("cancelled by %s", strings.ToLower(string(actor.Role)))
	}

	now := s.clock.Now()
	var refunded *domain.Payment

	err = s.store.WithinTx(ctx, func(tx ports.Store) error {
		var err error
		refunded, err = cancelInTx(ctx, tx, booking, reason, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingCancelled
	s.log.InfoContext(ctx, "booking cancelled", "booking_id", bookingID, "by", actor.ID, "refunded", refunded != nil)

	s.events.publish(ctx, bookingEvent(domain.EventBookingCancelled, booking, now))
	if refunded != nil {
		s.events.publish(ctx, refundEvents(refunded, now)...)
	}

	return s.view(ctx, bookingID)
}

// Dispute freezes the booking until an admin resolves it.
func (s *BookingService) Dispute(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, reason string) (*BookingView, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason is required")
	}

	if len(reason) > maxReasonLength {
		return nil, invalid("reason is too long")
	}

	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !isParty(actor, booking) {
		return nil, forbidden("only the client or provider can raise a dispute")
	}

	if !slices.Contains(domain.DisputableStates(), booking.Status) {
		return nil, domain.BookingTransitionError(booking.Status, domain.BookingDisputed)
	}

	now := s.clock.Now()
	by := actor.ID
	upd := domain.BookingUpdate{At: now, DisputeReason: reason, DisputedBy: &by}

	if err := s.store.Bookings().TransitionStatus(ctx, bookingID, []domain.BookingStatus{booking.Status}, domain.BookingDisputed, upd); err != nil {
		return nil, err
	}

	booking.Status = domain.BookingDisputed
	s.log.WarnContext(ctx, "booking disputed", "booking_id", bookingID, "by", actor.ID)
	s.events.publish(ctx, bookingEvent(domain.EventBookingDisputed, booking, now))

	return s.view(ctx, bookingID)
}

// ResolveDispute is the only way out of DISPUTED. RELEASE completes the
// booking through the normal release path; REFUND cancels it and refunds
// any escrowed funds.
func (s *BookingService) ResolveDispute(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, outcome domain.DisputeOutcome) (*BookingView, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only admins can resolve disputes")
	}

	if !outcome.Valid() {
		return nil, invalid("outcome must be RELEASE or REFUND")
	}

	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status != domain.BookingDisputed {
		return nil, fmt.Errorf("%w: booking %s is not disputed", domain.ErrInvalidTransition, booking.Status)
	}

	if outcome == domain.DisputeRelease {
		if _, err := s.completer.complete(ctx, bookingID, domain.BookingDisputed, domain.CompletionDispute); err != nil {
			return nil, err
		}
		return s.view(ctx, bookingID)
	}

	now := s.clock.Now()
	var refunded *domain.Payment

	err = s.store.WithinTx(ctx, func(tx ports.Store) error {
		var err error
		refunded, err = cancelInTx(ctx, tx, booking, "dispute resolved: refund", now)
		return err
	})
	if err != nil {
		return nil, err
	}

	booking.Status = domain.BookingCancelled
	s.log.InfoContext(ctx, "dispute resolved with refund", "booking_id", bookingID, "admin_id", actor.ID, "refunded", refunded != nil)

	s.events.publish(ctx, bookingEvent(domain.EventBookingCancelled, booking, now))
	if refunded != nil {
		s.events.publish(ctx, refundEvents(refunded, now)...)
	}

	return s.view(ctx, bookingID)
}

func (s *BookingService) Get(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (*BookingView, error) {
	view, err := s.view(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if !actor.IsAdmin() && !isParty(actor, &view.Booking) {
		return nil, forbidden("not a party to this booking")
	}

	return view, nil
}

func (s *BookingService) view(ctx context.Context, bookingID uuid.UUID) (*BookingView, error) {
	booking, err := s.store.Bookings().GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	view := &BookingView{Booking: *booking}

	payment, err := s.store.Payments().GetByBookingID(ctx, bookingID)
	switch {
	case err == nil:
		view.Payment = payment
		if view.Payouts, err = s.store.Payouts().ListByPaymentID(ctx, payment.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	proof, err := s.store.JobProofs().GetByBookingID(ctx, bookingID)
	switch {
	case err == nil:
		view.Proof = proof
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	return view, nil
}

func isParty(actor domain.Actor, b *domain.Booking) bool {
	switch actor.Role {
	case domain.RoleClient:
		return b.ClientID == actor.ID
	case domain.RoleProvider:
		return b.ProviderID == actor.ID
	}
	return false
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrForbidden, msg)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
}
