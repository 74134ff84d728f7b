// Package memory is an in-process Store with the same conditional-update and
// uniqueness rules as the Postgres store. Transactions run under one mutex
// on a copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/ports"
)

type state struct {
	bookings   map[uuid.UUID]domain.Booking
	payments   map[uuid.UUID]domain.Payment
	payouts    map[uuid.UUID]domain.Payout
	proofs     map[uuid.UUID]domain.JobProof
	events     map[string]domain.WebhookEvent
	recipients map[uuid.UUID]string
	writes     int
}

func newState() *state {
	return &state{
		bookings:   make(map[uuid.UUID]domain.Booking),
		payments:   make(map[uuid.UUID]domain.Payment),
		payouts:    make(map[uuid.UUID]domain.Payout),
		proofs:     make(map[uuid.UUID]domain.JobProof),
		events:     make(map[string]domain.WebhookEvent),
		recipients: make(map[uuid.UUID]string),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	for k, v := range s.proofs {
		v.Photos = append([]string(nil), v.Photos...)
		c.proofs[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.recipients {
		c.recipients[k] = v
	}
	c.writes = s.writes
	return c
}

type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool
}

var (
	_ ports.Store        = (*Store)(nil)
	_ ports.LedgerReader = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, state: newState()}
}

func (s *Store) do(fn func(st *state) error) error {
	if s.inTx {
		return fn(s.state)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.state)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{mu: s.mu, state: s.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}

	s.state = tx.state
	return nil
}

// Writes counts committed row mutations.
func (s *Store) Writes() int {
	var n int
	_ = s.do(func(st *state) error {
		n = st.writes
		return nil
	})
	return n
}

func (s *Store) Bookings() ports.BookingRepository { return bookingRepo{s} }

func (s *Store) Payments() ports.PaymentRepository { return paymentRepo{s} }

func (s *Store) Payouts() ports.PayoutRepository { return payoutRepo{s} }

func (s *Store) JobProofs() ports.JobProofRepository { return proofRepo{s} }

func (s *Store) WebhookEvents() ports.WebhookEventRepository { return eventRepo{s} }

func (s *Store) ProviderAccounts() ports.ProviderAccountRepository { return accountRepo{s} }

// PutProviderAccount registers a payout destination.
func (s *Store) PutProviderAccount(providerID uuid.UUID, recipientID string) {
	_ = s.do(func(st *state) error {
		st.recipients[providerID] = recipientID
		return nil
	})
}

// Seed inserts rows as-is, bypassing every rule. It exists to load fixtures
// such as legacy payment statuses.
func (s *Store) Seed(bookings []domain.Booking, payments []domain.Payment, payouts []domain.Payout) {
	_ = s.do(func(st *state) error {
		for _, b := range bookings {
			st.bookings[b.ID] = b
		}
		for _, p := range payments {
			st.payments[p.ID] = p
		}
		for _, p := range payouts {
			st.payouts[p.ID] = p
		}
		return nil
	})
}

func (s *Store) Snapshot(ctx context.Context) (*domain.LedgerSnapshot, error) {
	snap := &domain.LedgerSnapshot{TakenAt: time.Now().UTC()}

	err := s.do(func(st *state) error {
		for _, b := range st.bookings {
			snap.Bookings = append(snap.Bookings, b)
		}
		for _, p := range st.payments {
			snap.Payments = append(snap.Payments, p)
		}
		for _, p := range st.payouts {
			snap.Payouts = append(snap.Payouts, p)
		}
		return nil
	})

	sort.Slice(snap.Bookings, func(i, j int) bool { return snap.Bookings[i].CreatedAt.Before(snap.Bookings[j].CreatedAt) })
	sort.Slice(snap.Payments, func(i, j int) bool { return snap.Payments[i].CreatedAt.Before(snap.Payments[j].CreatedAt) })
	sort.Slice(snap.Payouts, func(i, j int) bool { return snap.Payouts[i].CreatedAt.Before(snap.Payouts[j].CreatedAt) })

	return snap, err
}

type bookingRepo struct{ s *Store }

func (r bookingRepo) Create(ctx context.Context, booking *domain.Booking) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.bookings[booking.ID]; ok {
			return domain.ErrConflict
		}
		st.bookings[booking.ID] = *booking
		st.writes++
		return nil
	})
}

func (r bookingRepo) GetByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	var out domain.Booking
	err := r.s.do(func(st *state) error {
		b, ok := st.bookings[bookingID]
		if !ok {
			return domain.ErrNotFound
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r bookingRepo) TransitionStatus(ctx context.Context, bookingID uuid.UUID, from []domain.BookingStatus, to domain.BookingStatus, upd domain.BookingUpdate) error {
	return r.s.do(func(st *state) error {
		b, ok := st.bookings[bookingID]
		if !ok || !containsStatus(from, b.Status) {
			return domain.ErrConflict
		}

		b.Status = to
		b.UpdatedAt = upd.At
		if upd.CancelReason != "" {
			b.CancelReason = upd.CancelReason
		}
		if upd.DisputeReason != "" {
			b.DisputeReason = upd.DisputeReason
			b.DisputedBy = upd.DisputedBy
		}

		at := upd.At
		switch to {
		case domain.BookingConfirmed:
			b.ConfirmedAt = &at
		case domain.BookingInProgress:
			b.StartedAt = &at
		case domain.BookingCompleted:
			b.CompletedAt = &at
		}

		st.bookings[bookingID] = b
		st.writes++
		return nil
	})
}

func (r bookingRepo) ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var due []domain.JobProof
	_ = r.s.do(func(st *state) error {
		for _, p := range st.proofs {
			if p.ClientConfirmed || p.AutoConfirmed || p.AutoConfirmAt.After(now) {
				continue
			}
			if b, ok := st.bookings[p.BookingID]; ok && b.Status == domain.BookingAwaitingConfirmation {
				due = append(due, p)
			}
		}
		return nil
	})

	sort.Slice(due, func(i, j int) bool { return due[i].AutoConfirmAt.Before(due[j].AutoConfirmAt) })

	ids := make([]uuid.UUID, 0, len(due))
	for i, p := range due {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, p.BookingID)
	}

	return ids, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	return r.s.do(func(st *state) error {
		for _, p := range st.payments {
			if p.BookingID == payment.BookingID || p.Reference == payment.Reference {
				return domain.ErrConflict
			}
		}
		st.payments[payment.ID] = *payment
		st.writes++
		return nil
	})
}

func (r paymentRepo) find(match func(domain.Payment) bool) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.s.do(func(st *state) error {
		for _, p := range st.payments {
			if match(p) {
				found := p
				out = &found
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r paymentRepo) GetByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.ID == paymentID })
}

func (r paymentRepo) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.BookingID == bookingID })
}

func (r paymentRepo) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.Reference == reference })
}

func (r paymentRepo) TransitionStatus(ctx context.Context, paymentID uuid.UUID, from, to domain.PaymentStatus, upd domain.PaymentUpdate) error {
	return r.s.do(func(st *state) error {
		p, ok := st.payments[paymentID]
		if !ok || p.Status != from {
			return domain.ErrConflict
		}

		p.Status = to
		p.UpdatedAt = upd.At
		if upd.GatewayTransactionID != "" {
			p.GatewayTransactionID = upd.GatewayTransactionID
		}
		if upd.FailureReason != "" {
			p.FailureReason = upd.FailureReason
		}
		if upd.PaidAt != nil {
			p.PaidAt = upd.PaidAt
		}
		if to == domain.PaymentReleased {
			at := upd.At
			p.ReleasedAt = &at
		}

		st.payments[paymentID] = p
		st.writes++
		return nil
	})
}

func (r paymentRepo) ListNonCanonical(ctx context.Context) ([]domain.Payment, error) {
	var out []domain.Payment
	_ = r.s.do(func(st *state) error {
		for _, p := range st.payments {
			if !p.Status.Canonical() {
				out = append(out, p)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r paymentRepo) RewriteStatus(ctx context.Context, paymentID uuid.UUID, raw string, to domain.PaymentStatus) (bool, error) {
	var changed bool
	err := r.s.do(func(st *state) error {
		p, ok := st.payments[paymentID]
		if !ok || string(p.Status) != raw {
			return nil
		}
		p.Status = to
		st.payments[paymentID] = p
		st.writes++
		changed = true
		return nil
	})
	return changed, err
}

type payoutRepo struct{ s *Store }

func (r payoutRepo) Create(ctx context.Context, payout *domain.Payout) error {
	return r.s.do(func(st *state) error {
		for _, p := range st.payouts {
			if p.Reference == payout.Reference {
				return domain.ErrConflict
			}
			if p.PaymentID == payout.PaymentID && p.Status != domain.PayoutFailed {
				return domain.ErrConflict
			}
		}
		st.payouts[payout.ID] = *payout
		st.writes++
		return nil
	})
}

func (r payoutRepo) GetByID(ctx context.Context, payoutID uuid.UUID) (*domain.Payout, error) {
	var out domain.Payout
	err := r.s.do(func(st *state) error {
		p, ok := st.payouts[payoutID]
		if !ok {
			return domain.ErrNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r payoutRepo) GetByReference(ctx context.Context, reference string) (*domain.Payout, error) {
	var out *domain.Payout
	err := r.s.do(func(st *state) error {
		for _, p := range st.payouts {
			if p.Reference == reference {
				found := p
				out = &found
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return out, err
}

func (r payoutRepo) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]domain.Payout, error) {
	var out []domain.Payout
	_ = r.s.do(func(st *state) error {
		for _, p := range st.payouts {
			if p.PaymentID == paymentID {
				out = append(out, p)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (r payoutRepo) TransitionStatus(ctx context.Context, payoutID uuid.UUID, from, to domain.PayoutStatus, upd domain.PayoutUpdate) error {
	return r.s.do(func(st *state) error {
		p, ok := st.payouts[payoutID]
		if !ok || p.Status != from {
			return domain.ErrConflict
		}

		p.Status = to
		p.UpdatedAt = upd.At
		if upd.FailureReason != "" {
			p.FailureReason = upd.FailureReason
		}
		at := upd.At
		p.SettledAt = &at

		st.payouts[payoutID] = p
		st.writes++
		return nil
	})
}

func (r payoutRepo) SetTransferID(ctx context.Context, payoutID uuid.UUID, transferID string, at time.Time) error {
	return r.s.do(func(st *state) error {
		p, ok := st.payouts[payoutID]
		if !ok || p.Status != domain.PayoutPending || p.TransferID != "" {
			return domain.ErrConflict
		}

		p.TransferID = transferID
		p.UpdatedAt = at
		st.payouts[payoutID] = p
		st.writes++
		return nil
	})
}

func (r payoutRepo) ListUninitiated(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	_ = r.s.do(func(st *state) error {
		for _, p := range st.payouts {
			if p.Status == domain.PayoutPending && p.TransferID == "" && !p.CreatedAt.After(createdBefore) {
				out = append(out, p)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type proofRepo struct{ s *Store }

func (r proofRepo) Create(ctx context.Context, proof *domain.JobProof) error {
	return r.s.do(func(st *state) error {
		if _, ok := st.proofs[proof.BookingID]; ok {
			return domain.ErrConflict
		}
		p := *proof
		p.Photos = append([]string(nil), proof.Photos...)
		st.proofs[proof.BookingID] = p
		st.writes++
		return nil
	})
}

func (r proofRepo) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*domain.JobProof, error) {
	var out domain.JobProof
	err := r.s.do(func(st *state) error {
		p, ok := st.proofs[bookingID]
		if !ok {
			return domain.ErrNotFound
		}
		out = p
		out.Photos = append([]string(nil), p.Photos...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r proofRepo) MarkConfirmed(ctx context.Context, bookingID uuid.UUID, source domain.CompletionSource) error {
	return r.s.do(func(st *state) error {
		p, ok := st.proofs[bookingID]
		if !ok || p.ClientConfirmed || p.AutoConfirmed {
			return domain.ErrConflict
		}

		if source == domain.CompletionAuto {
			p.AutoConfirmed = true
		} else {
			p.ClientConfirmed = true
		}

		st.proofs[bookingID] = p
		st.writes++
		return nil
	})
}

type eventRepo struct{ s *Store }

func (r eventRepo) Record(ctx context.Context, event *domain.WebhookEvent) error {
	key := string(event.Provider) + "|" + event.EventID
	return r.s.do(func(st *state) error {
		if _, ok := st.events[key]; ok {
			return domain.ErrDuplicateEvent
		}
		st.events[key] = *event
		st.writes++
		return nil
	})
}

type accountRepo struct{ s *Store }

func (r accountRepo) GetRecipient(ctx context.Context, providerID uuid.UUID) (string, error) {
	var out string
	err := r.s.do(func(st *state) error {
		id, ok := st.recipients[providerID]
		if !ok {
			return domain.ErrNotFound
		}
		out = id
		return nil
	})
	return out, err
}

func containsStatus(set []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
