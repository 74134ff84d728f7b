package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
)

type SweepOptions struct {
	Interval  time.Duration
	BatchSize int
}

type SweepResult struct {
	Due       int `json:"due"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SweepService auto-confirms bookings whose job-proof deadline has passed.
// Passes are safe to overlap with each other and with client confirmation.
type SweepService struct {
	store     ports.Store
	completer *completer
	clock     clock.Clock
	log       *slog.Logger
	opts      SweepOptions
	nr        *newrelic.Application
}

// NewSweepService accepts a nil New Relic application.
func NewSweepService(store ports.Store, payouts *PayoutService, pub ports.EventPublisher, clk clock.Clock, log *slog.Logger, nr *newrelic.Application, opts SweepOptions) *SweepService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}

	return &SweepService{
		store:     store,
		completer: &completer{store: store, payouts: payouts, events: eventSink{pub: pub, log: log}, clock: clk, log: log},
		clock:     clk,
		log:       log,
		opts:      opts,
		nr:        nr,
	}
}

func (s *SweepService) RunOnce(ctx context.Context) (SweepResult, error) {
	txn := s.nr.StartTransaction("auto-confirm-sweep")
	defer txn.End()
	ctx = newrelic.NewContext(ctx, txn)

	var res SweepResult

	ids, err := s.store.Bookings().ListAutoConfirmDue(ctx, s.clock.Now(), s.opts.BatchSize)
	if err != nil {
		txn.NoticeError(err)
		return res, fmt.Errorf("failed to list due bookings: %w", err)
	}

	res.Due = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		_, err := s.completer.complete(ctx, id, domain.BookingAwaitingConfirmation, domain.CompletionAuto)
		switch {
		case err == nil:
			res.Completed++
		case errors.Is(err, domain.ErrConflict):
			// confirmed by the client or another sweep first
			res.Skipped++
		default:
			res.Failed++
			s.log.ErrorContext(ctx, "auto-confirm failed", "booking_id", id, "error", err)
		}
	}

	txn.AddAttribute("due", res.Due)
	txn.AddAttribute("completed", res.Completed)
	txn.AddAttribute("skipped", res.Skipped)
	txn.AddAttribute("failed", res.Failed)

	return res, nil
}

func (s *SweepService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.log.Info("auto-confirm sweep started", "interval", s.opts.Interval, "batch_size", s.opts.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("auto-confirm sweep stopped")
			return
		case <-ticker.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "auto-confirm sweep failed", "error", err)
				continue
			}
			if res.Due > 0 {
				s.log.InfoContext(ctx, "auto-confirm sweep finished",
					"due", res.Due, "completed", res.Completed, "skipped", res.Skipped, "failed", res.Failed)
			}
		}
	}
}
