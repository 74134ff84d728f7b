package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/signature"
)

const (
	maxWebhookBodySize = 1 << 20

	gatewaySignatureHeader = "X-Gateway-Signature"
	payoutSignatureHeader  = "X-Payout-Signature"
)

type WebhookHandler struct {
	svc     *services.WebhookService
	gateway *signature.Verifier
	payouts *signature.Verifier
	log     *slog.Logger
}

func NewWebhookHandler(svc *services.WebhookService, gateway, payouts *signature.Verifier, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, gateway: gateway, payouts: payouts, log: log}
}

type webhookEnvelope struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type chargeData struct {
	Reference     string     `json:"reference"`
	TransactionID string     `json:"transaction_id"`
	Amount        *int64     `json:"amount"`
	Currency      string     `json:"currency"`
	PaidAt        *time.Time `json:"paid_at"`
	FailureReason string     `json:"failure_reason"`
}

type transferData struct {
	Reference     string `json:"reference"`
	TransferID    string `json:"transfer_id"`
	FailureReason string `json:"failure_reason"`
}

// POST /webhooks/gateway
func (h *WebhookHandler) Gateway(c *gin.Context) {
	env, ok := h.verified(c, h.gateway, gatewaySignatureHeader)
	if !ok {
		return
	}

	if env.Event != domain.EventChargeSuccess && env.Event != domain.EventChargeFailed {
		h.log.InfoContext(c.Request.Context(), "ignoring gateway event", "event_id", env.ID, "type", env.Event)
		c.JSON(http.StatusOK, gin.H{"status": domain.OutcomeIgnored})
		return
	}

	ev, err := parseCharge(env)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.svc.HandleCapture(c.Request.Context(), ev)
	h.respond(c, env, outcome, err)
}

// POST /webhooks/payouts
func (h *WebhookHandler) Payouts(c *gin.Context) {
	env, ok := h.verified(c, h.payouts, payoutSignatureHeader)
	if !ok {
		return
	}

	if env.Event != domain.EventTransferSuccess && env.Event != domain.EventTransferFailed {
		h.log.InfoContext(c.Request.Context(), "ignoring payout event", "event_id", env.ID, "type", env.Event)
		c.JSON(http.StatusOK, gin.H{"status": domain.OutcomeIgnored})
		return
	}

	ev, err := parseTransfer(env)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.svc.HandleTransfer(c.Request.Context(), ev)
	h.respond(c, env, outcome, err)
}

// verified reads the raw body, checks its signature and only then decodes
// the envelope.
func (h *WebhookHandler) verified(c *gin.Context, v *signature.Verifier, header string) (*webhookEnvelope, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.WarnContext(c.Request.Context(), "webhook body too large", "path", c.FullPath(), "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}

	if err := v.Verify(body, c.GetHeader(header)); err != nil {
		h.log.WarnContext(c.Request.Context(), "webhook signature rejected", "path", c.FullPath(), "remote_addr", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return nil, false
	}

	var env webhookEnvelope
	if err := decodeStrict(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return nil, false
	}

	if env.ID == "" || env.Event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and event are required"})
		return nil, false
	}

	return &env, true
}

func (h *WebhookHandler) respond(c *gin.Context, env *webhookEnvelope, outcome domain.WebhookOutcome, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"status": outcome})
		return
	}

	ctx := c.Request.Context()

	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAmountMismatch):
		h.log.WarnContext(ctx, "webhook event rejected", "event_id", env.ID, "type", env.Event, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		h.log.WarnContext(ctx, "webhook event for unknown reference", "event_id", env.ID, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.ErrorContext(ctx, "webhook event failed", "event_id", env.ID, "type", env.Event, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func parseCharge(env *webhookEnvelope) (domain.CaptureEvent, error) {
	var d chargeData
	if err := decodeStrict(env.Data, &d); err != nil {
		return domain.CaptureEvent{}, fmt.Errorf("malformed data: %v", err)
	}

	if d.Reference == "" || d.Amount == nil || d.Currency == "" {
		return domain.CaptureEvent{}, errors.New("reference, amount and currency are required")
	}

	if env.Event == domain.EventChargeSuccess && d.TransactionID == "" {
		return domain.CaptureEvent{}, errors.New("transaction_id is required")
	}

	currency, err := domain.ParseCurrency(d.Currency)
	if err != nil {
		return domain.CaptureEvent{}, err
	}

	ev := domain.CaptureEvent{
		EventID:       env.ID,
		Type:          env.Event,
		Reference:     d.Reference,
		TransactionID: d.TransactionID,
		Amount:        domain.Money(*d.Amount),
		Currency:      currency,
		Reason:        d.FailureReason,
	}
	if d.PaidAt != nil {
		ev.PaidAt = d.PaidAt.UTC()
	}

	return ev, nil
}

func parseTransfer(env *webhookEnvelope) (domain.TransferEvent, error) {
	var d transferData
	if err := decodeStrict(env.Data, &d); err != nil {
		return domain.TransferEvent{}, fmt.Errorf("malformed data: %v", err)
	}

	if d.Reference == "" {
		return domain.TransferEvent{}, errors.New("reference is required")
	}

	return domain.TransferEvent{
		EventID:    env.ID,
		Type:       env.Event,
		Reference:  d.Reference,
		TransferID: d.TransferID,
		Reason:     d.FailureReason,
	}, nil
}

func decodeStrict(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}

	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}
