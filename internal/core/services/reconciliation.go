package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

// ReconciliationService audits the ledger. It only reads; every finding
// is left to an operator.
type ReconciliationService struct {
	reader ports.LedgerReader
	log    *slog.Logger
}

func NewReconciliationService(reader ports.LedgerReader, log *slog.Logger) *ReconciliationService {
	return &ReconciliationService{reader: reader, log: log}
}

func (s *ReconciliationService) Run(ctx context.Context) (*domain.ReconciliationReport, error) {
	snap, err := s.reader.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	report := Reconcile(snap)

	if report.Clean() {
		s.log.InfoContext(ctx, "reconciliation clean",
			"bookings", report.BookingsCount, "payments", report.PaymentsCount, "payouts", report.PayoutsCount)
	} else {
		for code, n := range report.CountByCode() {
			s.log.WarnContext(ctx, "reconciliation found invariant violations", "code", string(code), "count", n)
		}
	}

	return report, nil
}

// escrowCompatible lists the booking states that can coexist with a
// payment holding funds in escrow.
var escrowCompatible = map[domain.BookingStatus]bool{
	domain.BookingPendingExecution:     true,
	domain.BookingInProgress:           true,
	domain.BookingAwaitingConfirmation: true,
	domain.BookingCompleted:            true,
	domain.BookingDisputed:             true,
}

// Reconcile checks every cross-entity invariant over a snapshot. It is
// pure: the same snapshot always yields the same report.
func Reconcile(snap *domain.LedgerSnapshot) *domain.ReconciliationReport {
	r := &reconciler{
		report: &domain.ReconciliationReport{
			GeneratedAt:   snap.TakenAt,
			BookingsCount: len(snap.Bookings),
			PaymentsCount: len(snap.Payments),
			PayoutsCount:  len(snap.Payouts),
			Violations:    []domain.Violation{},
		},
		bookings:       make(map[uuid.UUID]*domain.Booking, len(snap.Bookings)),
		payments:       make(map[uuid.UUID]*domain.Payment, len(snap.Payments)),
		status:         make(map[uuid.UUID]domain.PaymentStatus, len(snap.Payments)),
		paymentsByBook: make(map[uuid.UUID][]*domain.Payment),
		activePayouts:  make(map[uuid.UUID]int),
	}

	for i := range snap.Bookings {
		r.bookings[snap.Bookings[i].ID] = &snap.Bookings[i]
	}

	legacy := domain.DefaultLegacyPaymentStatuses()
	for i := range snap.Payments {
		p := &snap.Payments[i]
		r.payments[p.ID] = p
		r.paymentsByBook[p.BookingID] = append(r.paymentsByBook[p.BookingID], p)

		if !p.Status.Canonical() {
			r.add(domain.Violation{
				Code:          domain.ViolationLegacyPaymentStatus,
				Message:       fmt.Sprintf("payment status %q is not canonical", p.Status),
				BookingID:     ptr(p.BookingID),
				PaymentID:     ptr(p.ID),
				PaymentStatus: string(p.Status),
			})
		}

		// checks below run on the normalized value; an unmappable status
		// only gets the legacy entry above
		if st, ok := domain.NormalizePaymentStatus(string(p.Status), legacy); ok {
			r.status[p.ID] = st
		}
	}

	for i := range snap.Payouts {
		if snap.Payouts[i].Status != domain.PayoutFailed {
			r.activePayouts[snap.Payouts[i].PaymentID]++
		}
	}

	for i := range snap.Payments {
		r.checkPayment(&snap.Payments[i])
	}

	for i := range snap.Bookings {
		r.checkBooking(&snap.Bookings[i])
	}

	for i := range snap.Payouts {
		r.checkPayout(&snap.Payouts[i])
	}

	return r.report
}

type reconciler struct {
	report         *domain.ReconciliationReport
	bookings       map[uuid.UUID]*domain.Booking
	payments       map[uuid.UUID]*domain.Payment
	status         map[uuid.UUID]domain.PaymentStatus
	paymentsByBook map[uuid.UUID][]*domain.Payment
	activePayouts  map[uuid.UUID]int
}

func (r *reconciler) add(v domain.Violation) {
	r.report.Violations = append(r.report.Violations, v)
}

func (r *reconciler) checkPayment(p *domain.Payment) {
	if !p.SplitBalanced() {
		sum := p.EscrowAmount + p.PlatformFee
		r.add(domain.Violation{
			Code:      domain.ViolationAmountSplit,
			Message:   "escrow amount plus platform fee does not equal payment amount",
			BookingID: ptr(p.BookingID),
			PaymentID: ptr(p.ID),
			Expected:  ptr(p.Amount),
			Observed:  &sum,
		})
	}

	booking, ok := r.bookings[p.BookingID]
	if !ok {
		r.add(domain.Violation{
			Code:          domain.ViolationOrphanPayment,
			Message:       "payment references a booking that does not exist",
			BookingID:     ptr(p.BookingID),
			PaymentID:     ptr(p.ID),
			PaymentStatus: string(p.Status),
		})
		return
	}

	if booking.TotalAmount != p.Amount || booking.PlatformFee != p.PlatformFee || booking.Currency != p.Currency {
		r.add(domain.Violation{
			Code: domain.ViolationBookingPaymentAmount,
			Message: fmt.Sprintf("booking %d %s (fee %d) differs from payment %d %s (fee %d)",
				booking.TotalAmount, booking.Currency, booking.PlatformFee, p.Amount, p.Currency, p.PlatformFee),
			BookingID: ptr(booking.ID),
			PaymentID: ptr(p.ID),
			Expected:  ptr(booking.TotalAmount),
			Observed:  ptr(p.Amount),
		})
	}

	status, known := r.status[p.ID]
	if !known {
		return
	}

	switch status {
	case domain.PaymentReleased:
		if booking.Status != domain.BookingCompleted {
			r.add(r.pairViolation(domain.ViolationReleasedNotCompleted, "payment released but booking is not completed", booking, p))
		}
		if r.activePayouts[p.ID] == 0 {
			r.add(r.pairViolation(domain.ViolationReleasedWithoutPayout, "released payment has no active payout", booking, p))
		}
	case domain.PaymentEscrow:
		if !escrowCompatible[booking.Status] {
			r.add(r.pairViolation(domain.ViolationEscrowStateMismatch, "payment holds escrow but booking state cannot produce it", booking, p))
		}
	}

	if n := r.activePayouts[p.ID]; n > 1 {
		r.add(r.pairViolation(domain.ViolationDuplicatePayout, fmt.Sprintf("payment has %d active payouts", n), booking, p))
	}
}

func (r *reconciler) checkBooking(b *domain.Booking) {
	payments := r.paymentsByBook[b.ID]

	if len(payments) > 1 {
		r.add(domain.Violation{
			Code:          domain.ViolationDuplicatePayment,
			Message:       fmt.Sprintf("booking has %d payments", len(payments)),
			BookingID:     ptr(b.ID),
			BookingStatus: string(b.Status),
		})
	}

	if b.Status == domain.BookingCompleted {
		for _, p := range payments {
			if st := r.status[p.ID]; st == domain.PaymentPending || st == domain.PaymentFailed {
				r.add(r.pairViolation(domain.ViolationCompletedUnpaid, "booking completed but payment was never captured", b, p))
			}
		}
	}

	if b.Status.Funded() {
		funded := false
		for _, p := range payments {
			if r.status[p.ID] == domain.PaymentEscrow {
				funded = true
			}
		}
		if !funded {
			r.add(domain.Violation{
				Code:          domain.ViolationFundedStateWithoutEscrow,
				Message:       "booking is past funding but has no escrowed payment",
				BookingID:     ptr(b.ID),
				BookingStatus: string(b.Status),
			})
		}
	}
}

func (r *reconciler) checkPayout(po *domain.Payout) {
	p, ok := r.payments[po.PaymentID]
	if !ok {
		r.add(domain.Violation{
			Code:         domain.ViolationPayoutUnreleasedPayment,
			Message:      "payout references a payment that does not exist",
			PaymentID:    ptr(po.PaymentID),
			PayoutID:     ptr(po.ID),
			PayoutStatus: string(po.Status),
		})
		return
	}

	if r.status[p.ID] != domain.PaymentReleased {
		r.add(domain.Violation{
			Code:          domain.ViolationPayoutUnreleasedPayment,
			Message:       "payout exists for a payment that is not released",
			BookingID:     ptr(p.BookingID),
			PaymentID:     ptr(p.ID),
			PayoutID:      ptr(po.ID),
			PaymentStatus: string(p.Status),
			PayoutStatus:  string(po.Status),
		})
	}

	if po.Amount != p.EscrowAmount {
		r.add(domain.Violation{
			Code:         domain.ViolationPayoutAmount,
			Message:      "payout amount differs from payment escrow amount",
			BookingID:    ptr(p.BookingID),
			PaymentID:    ptr(p.ID),
			PayoutID:     ptr(po.ID),
			PayoutStatus: string(po.Status),
			Expected:     ptr(p.EscrowAmount),
			Observed:     ptr(po.Amount),
		})
	}
}

func (r *reconciler) pairViolation(code domain.ViolationCode, msg string, b *domain.Booking, p *domain.Payment) domain.Violation {
	return domain.Violation{
		Code:          code,
		Message:       msg,
		BookingID:     ptr(b.ID),
		PaymentID:     ptr(p.ID),
		BookingStatus: string(b.Status),
		PaymentStatus: string(p.Status),
	}
}

func ptr[T any](v T) *T {
	return &v
}
