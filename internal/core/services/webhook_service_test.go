package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports/mocks"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWebhookService_Capture_DuplicateDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	ev := captureEvent(payment, "evt_dup")

	outcome, err := f.webhooks.HandleCapture(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	writes := f.store.Writes()
	published := len(f.events())

	for i := 0; i < 3; i++ {
		outcome, err = f.webhooks.HandleCapture(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDuplicate, outcome)
	}

	assert.Equal(t, writes, f.store.Writes())
	assert.Len(t, f.events(), published)
	assert.Equal(t, domain.PaymentEscrow, f.payment(t, id).Status)
}

func TestWebhookService_Capture_SameTransactionNewEventID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, payment := f.fundedBooking(t)

	writes := f.store.Writes()

	outcome, err := f.webhooks.HandleCapture(ctx, captureEvent(payment, "evt_resent"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, writes, f.store.Writes())
}

func TestWebhookService_Capture_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	writes := f.store.Writes()

	short := captureEvent(payment, "evt_short")
	short.Amount = 999
	_, err := f.webhooks.HandleCapture(ctx, short)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	wrongCurrency := captureEvent(payment, "evt_eur")
	wrongCurrency.Currency = "EUR"
	_, err = f.webhooks.HandleCapture(ctx, wrongCurrency)
	assert.ErrorIs(t, err, domain.ErrAmountMismatch)

	assert.Equal(t, writes, f.store.Writes())
	assert.Equal(t, domain.PaymentPending, f.payment(t, id).Status)
	assert.Equal(t, domain.BookingConfirmed, f.booking(t, id).Status)

	// a rejected event id is not burned
	short.Amount = payment.Amount
	outcome, err := f.webhooks.HandleCapture(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
}

func TestWebhookService_Capture_UnknownReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.webhooks.HandleCapture(context.Background(), domain.CaptureEvent{
		EventID:   "evt_x",
		Type:      domain.EventChargeSuccess,
		Reference: "pay_missing",
		Amount:    1000,
		Currency:  "USD",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.store.Writes())
}

func TestWebhookService_Capture_Failure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	ev := captureEvent(payment, "evt_fail")
	ev.Type = domain.EventChargeFailed
	ev.Reason = "card declined"

	outcome, err := f.webhooks.HandleCapture(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	p := f.payment(t, id)
	assert.Equal(t, domain.PaymentFailed, p.Status)
	assert.Equal(t, "card declined", p.FailureReason)

	b := f.booking(t, id)
	assert.Equal(t, domain.BookingCancelled, b.Status)
	assert.Equal(t, "payment failed: card declined", b.CancelReason)

	ev.EventID = "evt_fail_again"
	outcome, err = f.webhooks.HandleCapture(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	_, err = f.webhooks.HandleCapture(ctx, captureEvent(payment, "evt_late_success"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestWebhookService_Capture_AfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	_, err := f.bookings.Cancel(ctx, f.client, id, "changed my mind")
	require.NoError(t, err)

	outcome, err := f.webhooks.HandleCapture(ctx, captureEvent(payment, "evt_after_cancel"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	p := f.payment(t, id)
	assert.Equal(t, domain.PaymentRefunded, p.Status)
	assert.Equal(t, "chrg_"+payment.Reference, p.GatewayTransactionID)
	assert.Equal(t, domain.BookingCancelled, f.booking(t, id).Status)
	assert.Contains(t, f.events(), domain.EventPaymentRefundRequired)
}

func TestWebhookService_Capture_WhileDisputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	_, err := f.bookings.Dispute(ctx, f.client, id, "wrong date")
	require.NoError(t, err)

	outcome, err := f.webhooks.HandleCapture(ctx, captureEvent(payment, "evt_disputed"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	assert.Equal(t, domain.PaymentEscrow, f.payment(t, id).Status)
	assert.Equal(t, domain.BookingDisputed, f.booking(t, id).Status)
}

func TestWebhookService_IgnoresUnknownTypes(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.webhooks.HandleCapture(context.Background(), domain.CaptureEvent{EventID: "evt_1", Type: "charge.pending"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)

	outcome, err = f.webhooks.HandleTransfer(context.Background(), domain.TransferEvent{EventID: "evt_2", Type: "transfer.created"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, outcome)

	assert.Zero(t, f.store.Writes())
}

func TestWebhookService_CacheFastPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, payment := f.acceptedBooking(t)

	cache := mocks.NewIdempotencyCache(t)
	webhooks := services.NewWebhookService(f.store, cache, f.pub, f.clock, logger.Discard(), time.Hour)

	cache.On("Seen", mock.Anything, "webhook:gateway:evt_cached").Return(true, nil).Once()

	writes := f.store.Writes()
	outcome, err := webhooks.HandleCapture(ctx, captureEvent(payment, "evt_cached"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)
	assert.Equal(t, writes, f.store.Writes())
}

func TestWebhookService_CacheUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, payment := f.acceptedBooking(t)

	cache := mocks.NewIdempotencyCache(t)
	webhooks := services.NewWebhookService(f.store, cache, f.pub, f.clock, logger.Discard(), time.Hour)

	cache.On("Seen", mock.Anything, "webhook:gateway:evt_1").Return(false, errors.New("connection refused")).Once()
	cache.On("Remember", mock.Anything, "webhook:gateway:evt_1", time.Hour).Return(errors.New("connection refused")).Once()

	outcome, err := webhooks.HandleCapture(ctx, captureEvent(payment, "evt_1"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)
	assert.Equal(t, domain.PaymentEscrow, f.payment(t, id).Status)
}

func TestWebhookService_Transfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.awaitingBooking(t)
	_, err := f.bookings.Confirm(ctx, f.client, id)
	require.NoError(t, err)

	payment := f.payment(t, id)
	payout := f.payoutsFor(t, payment.ID)[0]

	ev := domain.TransferEvent{
		EventID:    "evt_tr_fail",
		Type:       domain.EventTransferFailed,
		Reference:  payout.Reference,
		TransferID: "trsf_9",
		Reason:     "account closed",
	}

	outcome, err := f.webhooks.HandleTransfer(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, outcome)

	failed := f.payoutsFor(t, payment.ID)[0]
	assert.Equal(t, domain.PayoutFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)
	assert.Equal(t, "trsf_9", failed.TransferID)
	assert.Equal(t, domain.PaymentReleased, f.payment(t, id).Status)

	// same settlement under a new event id
	ev.EventID = "evt_tr_fail_2"
	outcome, err = f.webhooks.HandleTransfer(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, outcome)

	// a failed payout is never revived
	_, err = f.webhooks.HandleTransfer(ctx, domain.TransferEvent{
		EventID:   "evt_tr_success",
		Type:      domain.EventTransferSuccess,
		Reference: payout.Reference,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.webhooks.HandleTransfer(ctx, domain.TransferEvent{
		EventID:   "evt_tr_unknown",
		Type:      domain.EventTransferSuccess,
		Reference: "po_missing",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
