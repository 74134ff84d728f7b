package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
)

const (
	payoutQueueSize = 256
	// payouts younger than this are left to the in-process queue
	redriveGrace = time.Minute
)

type PayoutOptions struct {
	RetryInterval time.Duration
	BatchSize     int
	// NewBackOff builds the retry policy for one initiation attempt.
	NewBackOff func() backoff.BackOff
}

// DefaultBackOff retries a transfer up to 5 times within 30 seconds.
func DefaultBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(exp, 4)
}

// PayoutService sends released escrow to providers. Payout rows are
// created by the completion path; this service only initiates transfers and
// creates retry payouts after a failure.
type PayoutService struct {
	store    ports.Store
	provider ports.PayoutProvider
	events   eventSink
	clock    clock.Clock
	log      *slog.Logger
	opts     PayoutOptions
	queue    chan uuid.UUID
}

func NewPayoutService(store ports.Store, provider ports.PayoutProvider, pub ports.EventPublisher, clk clock.Clock, log *slog.Logger, opts PayoutOptions) *PayoutService {
	if opts.NewBackOff == nil {
		opts.NewBackOff = DefaultBackOff
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}

	return &PayoutService{
		store:    store,
		provider: provider,
		events:   eventSink{pub: pub, log: log},
		clock:    clk,
		log:      log,
		opts:     opts,
		queue:    make(chan uuid.UUID, payoutQueueSize),
	}
}

// Enqueue hands a freshly created payout to the worker. It never blocks;
// when the queue is full the re-drive pass picks the payout up later.
func (s *PayoutService) Enqueue(payoutID uuid.UUID) {
	select {
	case s.queue <- payoutID:
	default:
		s.log.Warn("payout queue full, leaving payout for re-drive", "payout_id", payoutID)
	}
}

// Initiate asks the payout provider to transfer the payout amount and
// records the provider's transfer id. A transfer already sent under the
// payout reference is recorded instead of sent again. The payout stays
// PENDING either way; only the provider's webhook settles it.
func (s *PayoutService) Initiate(ctx context.Context, payout domain.Payout) error {
	if payout.Status != domain.PayoutPending || payout.TransferID != "" {
		return nil
	}

	if s.provider == nil {
		return fmt.Errorf("%w: no payout provider configured", domain.ErrExternalService)
	}

	recipient, err := s.store.ProviderAccounts().GetRecipient(ctx, payout.ProviderID)
	if err != nil {
		return fmt.Errorf("failed to resolve payout recipient for provider %s: %w", payout.ProviderID, err)
	}

	req := ports.TransferRequest{
		Reference:   payout.Reference,
		RecipientID: recipient,
		Amount:      payout.Amount,
		Currency:    payout.Currency,
	}

	var transferID string
	operation := func() error {
		// A timed out or failed send may still have gone through, and a
		// crash can lose the recorded id. Look before every send.
		id, err := s.provider.FindTransfer(ctx, req.Reference)
		if err == nil {
			s.log.WarnContext(ctx, "payout transfer already sent, recording it", "payout_id", payout.ID, "transfer_id", id)
			transferID = id
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to look up transfer %s: %w", req.Reference, err)
		}

		id, err = s.provider.CreateTransfer(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				return backoff.Permanent(err)
			}
			return err
		}
		transferID = id
		return nil
	}

	notify := func(err error, wait time.Duration) {
		s.log.WarnContext(ctx, "payout transfer failed, retrying", "payout_id", payout.ID, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(s.opts.NewBackOff(), ctx), notify); err != nil {
		return err
	}

	if err := s.store.Payouts().SetTransferID(ctx, payout.ID, transferID, s.clock.Now()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			s.log.WarnContext(ctx, "payout settled or initiated concurrently", "payout_id", payout.ID, "transfer_id", transferID)
			return nil
		}
		return fmt.Errorf("failed to record transfer id: %w", err)
	}

	s.log.InfoContext(ctx, "payout transfer initiated", "payout_id", payout.ID, "transfer_id", transferID)
	return nil
}

// Retry creates a fresh payout for a released payment whose previous
// payouts all failed. Failed rows are never reused.
func (s *PayoutService) Retry(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.Payout, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only admins can retry payouts")
	}

	now := s.clock.Now()
	var payout *domain.Payout

	err := s.store.WithinTx(ctx, func(tx ports.Store) error {
		payment, err := tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return err
		}

		if payment.Status != domain.PaymentReleased {
			return fmt.Errorf("%w: payment is %s, not RELEASED", domain.ErrInvalidTransition, payment.Status)
		}

		booking, err := tx.Bookings().GetByID(ctx, payment.BookingID)
		if err != nil {
			return err
		}

		previous, err := tx.Payouts().ListByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}

		attempt := 1
		for _, p := range previous {
			if p.Status != domain.PayoutFailed {
				return fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidTransition, p.ID, p.Status)
			}
			if p.Attempt >= attempt {
				attempt = p.Attempt + 1
			}
		}

		payout = domain.NewPayout(payment, booking.ProviderID, attempt, now)
		return tx.Payouts().Create(ctx, payout)
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "payout retry created", "payout_id", payout.ID, "payment_id", paymentID, "attempt", payout.Attempt, "admin_id", actor.ID)
	s.events.publish(ctx, payoutEvent(domain.EventPayoutCreated, payout, now))
	s.Enqueue(payout.ID)

	return payout, nil
}

// RedriveOnce initiates payouts that were created but never reached the
// provider, for example after a crash or a provider outage.
func (s *PayoutService) RedriveOnce(ctx context.Context) (int, error) {
	pending, err := s.store.Payouts().ListUninitiated(ctx, s.clock.Now().Add(-redriveGrace), s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list uninitiated payouts: %w", err)
	}

	initiated := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := s.Initiate(ctx, p); err != nil {
			s.log.ErrorContext(ctx, "payout re-drive attempt failed", "payout_id", p.ID, "error", err)
			continue
		}
		initiated++
	}

	return initiated, nil
}

func (s *PayoutService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.RetryInterval)
	defer ticker.Stop()

	s.log.Info("payout worker started", "redrive_interval", s.opts.RetryInterval)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("payout worker stopped")
			return
		case id := <-s.queue:
			s.initiateByID(ctx, id)
		case <-ticker.C:
			n, err := s.RedriveOnce(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "payout re-drive failed", "error", err)
			} else if n > 0 {
				s.log.InfoContext(ctx, "payouts re-driven", "count", n)
			}
		}
	}
}

func (s *PayoutService) initiateByID(ctx context.Context, id uuid.UUID) {
	payout, err := s.store.Payouts().GetByID(ctx, id)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to load payout", "payout_id", id, "error", err)
		return
	}

	if err := s.Initiate(ctx, *payout); err != nil {
		s.log.ErrorContext(ctx, "payout initiation failed", "payout_id", id, "error", err)
	}
}
