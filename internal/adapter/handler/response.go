package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
)

type bookingResponse struct {
	ID              uuid.UUID        `json:"id"`
	ClientID        uuid.UUID        `json:"client_id"`
	ProviderID      uuid.UUID        `json:"provider_id"`
	ServiceID       uuid.UUID        `json:"service_id"`
	ScheduledAt     time.Time        `json:"scheduled_at"`
	DurationMinutes int              `json:"duration_minutes"`
	TotalAmount     int64            `json:"total_amount"`
	PlatformFee     int64            `json:"platform_fee"`
	Currency        string           `json:"currency"`
	Address         string           `json:"address,omitempty"`
	Status          string           `json:"status"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	DisputeReason   string           `json:"dispute_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Payment         *paymentResponse `json:"payment,omitempty"`
	Payouts         []payoutResponse `json:"payouts"`
	Proof           *proofResponse   `json:"job_proof,omitempty"`
}

type paymentResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Status               string     `json:"status"`
	Amount               int64      `json:"amount"`
	EscrowAmount         int64      `json:"escrow_amount"`
	PlatformFee          int64      `json:"platform_fee"`
	Currency             string     `json:"currency"`
	Reference            string     `json:"reference"`
	GatewayTransactionID string     `json:"gateway_transaction_id,omitempty"`
	FailureReason        string     `json:"failure_reason,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	ReleasedAt           *time.Time `json:"released_at,omitempty"`
}

type payoutResponse struct {
	ID            uuid.UUID  `json:"id"`
	PaymentID     uuid.UUID  `json:"payment_id"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Reference     string     `json:"reference"`
	TransferID    string     `json:"transfer_id,omitempty"`
	Attempt       int        `json:"attempt"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

type proofResponse struct {
	Photos          []string  `json:"photos"`
	Notes           string    `json:"notes,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
	AutoConfirmAt   time.Time `json:"auto_confirm_at"`
	ClientConfirmed bool      `json:"client_confirmed"`
	AutoConfirmed   bool      `json:"auto_confirmed"`
}

func newBookingResponse(v *services.BookingView) bookingResponse {
	b := v.Booking
	out := bookingResponse{
		ID:              b.ID,
		ClientID:        b.ClientID,
		ProviderID:      b.ProviderID,
		ServiceID:       b.ServiceID,
		ScheduledAt:     b.ScheduledAt,
		DurationMinutes: b.DurationMinutes,
		TotalAmount:     int64(b.TotalAmount),
		PlatformFee:     int64(b.PlatformFee),
		Currency:        string(b.Currency),
		Address:         b.Address,
		Status:          string(b.Status),
		CancelReason:    b.CancelReason,
		DisputeReason:   b.DisputeReason,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		CompletedAt:     b.CompletedAt,
		Payouts:         make([]payoutResponse, 0, len(v.Payouts)),
	}

	if p := v.Payment; p != nil {
		out.Payment = &paymentResponse{
			ID:                   p.ID,
			Status:               string(p.Status),
			Amount:               int64(p.Amount),
			EscrowAmount:         int64(p.EscrowAmount),
			PlatformFee:          int64(p.PlatformFee),
			Currency:             string(p.Currency),
			Reference:            p.Reference,
			GatewayTransactionID: p.GatewayTransactionID,
			FailureReason:        p.FailureReason,
			PaidAt:               p.PaidAt,
			ReleasedAt:           p.ReleasedAt,
		}
	}

	for i := range v.Payouts {
		out.Payouts = append(out.Payouts, newPayoutResponse(&v.Payouts[i]))
	}

	if j := v.Proof; j != nil {
		out.Proof = &proofResponse{
			Photos:          j.Photos,
			Notes:           j.Notes,
			CompletedAt:     j.CompletedAt,
			AutoConfirmAt:   j.AutoConfirmAt,
			ClientConfirmed: j.ClientConfirmed,
			AutoConfirmed:   j.AutoConfirmed,
		}
	}

	return out
}

func newPayoutResponse(p *domain.Payout) payoutResponse {
	return payoutResponse{
		ID:            p.ID,
		PaymentID:     p.PaymentID,
		Status:        string(p.Status),
		Amount:        int64(p.Amount),
		Currency:      string(p.Currency),
		Reference:     p.Reference,
		TransferID:    p.TransferID,
		Attempt:       p.Attempt,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		SettledAt:     p.SettledAt,
	}
}
