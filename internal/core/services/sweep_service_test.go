package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepService_AutoConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.awaitingBooking(t)

	f.clock.Advance(autoConfirmAfter - time.Minute)
	res, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)
	assert.Equal(t, domain.BookingAwaitingConfirmation, f.booking(t, id).Status)

	f.clock.Advance(time.Minute)
	res, err = f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Completed)

	b := f.booking(t, id)
	assert.Equal(t, domain.BookingCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
	assert.Equal(t, f.clock.Now(), *b.CompletedAt)

	proof, err := f.store.JobProofs().GetByBookingID(ctx, id)
	require.NoError(t, err)
	assert.True(t, proof.AutoConfirmed)
	assert.False(t, proof.ClientConfirmed)

	payment := f.payment(t, id)
	assert.Equal(t, domain.PaymentReleased, payment.Status)

	for i := 0; i < 3; i++ {
		f.clock.Advance(15 * time.Minute)
		res, err = f.sweep.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Due)
	}

	payouts := f.payoutsFor(t, payment.ID)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.Money(900), payouts[0].Amount)
}

func TestSweepService_AfterClientConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.awaitingBooking(t)

	_, err := f.bookings.Confirm(ctx, f.client, id)
	require.NoError(t, err)

	f.clock.Advance(autoConfirmAfter + time.Hour)
	res, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Due)

	assert.Len(t, f.payoutsFor(t, f.payment(t, id).ID), 1)
}

func TestSweepService_RacesClientConfirm(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		ctx := context.Background()
		id := f.awaitingBooking(t)
		f.clock.Advance(autoConfirmAfter)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			completed int
			confirmed bool
		)

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.sweep.RunOnce(ctx)
				assert.NoError(t, err)
				assert.Zero(t, res.Failed)

				mu.Lock()
				completed += res.Completed
				mu.Unlock()
			}()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.bookings.Confirm(ctx, f.client, id)
			if err == nil {
				mu.Lock()
				confirmed = true
				mu.Unlock()
				return
			}
			// the sweep got there first
			assert.True(t, errorIsConflictOrTransition(err), "unexpected error: %v", err)
		}()

		wg.Wait()

		winners := completed
		if confirmed {
			winners++
		}
		assert.Equal(t, 1, winners)

		assert.Equal(t, domain.BookingCompleted, f.booking(t, id).Status)
		assert.Equal(t, domain.PaymentReleased, f.payment(t, id).Status)
		assert.Len(t, f.payoutsFor(t, f.payment(t, id).ID), 1)
	}
}

func TestSweepService_Batches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.awaitingBooking(t)
	f.clock.Advance(time.Hour)
	second := f.awaitingBooking(t)

	f.clock.Advance(autoConfirmAfter)
	res, err := f.sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Due)
	assert.Equal(t, 2, res.Completed)

	assert.Equal(t, domain.BookingCompleted, f.booking(t, first).Status)
	assert.Equal(t, domain.BookingCompleted, f.booking(t, second).Status)
}

func errorIsConflictOrTransition(err error) bool {
	return errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrInvalidTransition)
}
