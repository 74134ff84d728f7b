package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/adapter/handler"
	"github.com/srgjo27/escrow_ledger/internal/adapter/messaging/rabbitmq"
	"github.com/srgjo27/escrow_ledger/internal/adapter/repository/memory"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
	"github.com/srgjo27/escrow_ledger/internal/platform/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret     = "test-jwt-secret"
	gatewaySecret = "whsec_gateway"
	payoutSecret  = "whsec_payouts"
)

type server struct {
	router   *gin.Engine
	store    *memory.Store
	client   uuid.UUID
	provider uuid.UUID
	admin    uuid.UUID
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	store := memory.NewStore()
	clk := clock.NewFake(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))

	pub := rabbitmq.NewLogPublisher(log)
	payouts := services.NewPayoutService(store, nil, pub, clk, log, services.PayoutOptions{})
	bookings := services.NewBookingService(store, payouts, pub, clk, log, services.BookingOptions{
		PlatformFeeBps:   1000,
		AutoConfirmAfter: 72 * time.Hour,
	})
	webhooks := services.NewWebhookService(store, nil, pub, clk, log, time.Hour)
	recon := services.NewReconciliationService(store, log)

	router := handler.NewRouter(
		handler.RouterConfig{JWTSecret: jwtSecret, Log: log},
		handler.NewBookingHandler(bookings, log),
		handler.NewAdminHandler(payouts, recon, log),
		handler.NewWebhookHandler(webhooks, signature.NewVerifier(gatewaySecret), signature.NewVerifier(payoutSecret), log),
	)

	return &server{router: router, store: store, client: uuid.New(), provider: uuid.New(), admin: uuid.New()}
}

func (s *server) token(t *testing.T, id uuid.UUID, role domain.Role) string {
	t.Helper()

	tok, err := handler.IssueToken(jwtSecret, id.String(), role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) webhook(t *testing.T, path, header, secret string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(header, signature.NewVerifier(secret).Sign(body))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) capture(t *testing.T, eventID, reference string, amount int64) *httptest.ResponseRecorder {
	return s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", gatewaySecret, map[string]any{
		"id":    eventID,
		"event": "charge.success",
		"data": map[string]any{
			"reference":      reference,
			"transaction_id": "chrg_" + reference,
			"amount":         amount,
			"currency":       "USD",
		},
	})
}

type bookingBody struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Payment *struct {
		Status       string `json:"status"`
		Reference    string `json:"reference"`
		EscrowAmount int64  `json:"escrow_amount"`
	} `json:"payment"`
	Payouts []struct {
		Amount    int64  `json:"amount"`
		Status    string `json:"status"`
		Reference string `json:"reference"`
	} `json:"payouts"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) bookingBody {
	t.Helper()

	var out bookingBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// createAndFund takes a booking to PENDING_EXECUTION over HTTP.
func (s *server) createAndFund(t *testing.T) (string, bookingBody) {
	t.Helper()

	client := s.token(t, s.client, domain.RoleClient)
	provider := s.token(t, s.provider, domain.RoleProvider)

	w := s.do(t, http.MethodPost, "/api/v1/bookings", client, map[string]any{
		"provider_id":      s.provider.String(),
		"service_id":       uuid.NewString(),
		"scheduled_at":     "2026-04-03T10:00:00Z",
		"duration_minutes": 120,
		"total_amount":     1000,
		"currency":         "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w).ID

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/accept", provider, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	accepted := decode(t, w)
	require.NotNil(t, accepted.Payment)

	w = s.capture(t, "evt_"+id, accepted.Payment.Reference, 1000)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	return id, accepted
}

func TestHealthz(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := handler.IssueToken("other-secret", s.client.String(), domain.RoleClient, time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := handler.IssueToken(jwtSecret, s.client.String(), domain.RoleClient, -time.Minute)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	badRole, err := handler.IssueToken(jwtSecret, s.client.String(), "OWNER", time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), badRole, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// tokens from other issuers carry the actor id in the registered subject
	standard, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  s.client.String(),
		"role": "CLIENT",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/v1/bookings/"+uuid.NewString(), standard, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	provider := s.token(t, s.provider, domain.RoleProvider)
	w = s.do(t, http.MethodPost, "/api/v1/bookings", provider, map[string]any{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/reconciliation", provider, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBookingLifecycle(t *testing.T) {
	s := newServer(t)
	client := s.token(t, s.client, domain.RoleClient)
	provider := s.token(t, s.provider, domain.RoleProvider)

	id, _ := s.createAndFund(t)

	w := s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/start", provider, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "IN_PROGRESS", decode(t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/proof", provider, map[string]any{
		"photos": []string{"https://cdn.example.com/1.jpg"},
		"notes":  "fixed the leak",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "AWAITING_CONFIRMATION", decode(t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/confirm", client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	done := decode(t, w)
	assert.Equal(t, "COMPLETED", done.Status)
	assert.Equal(t, "RELEASED", done.Payment.Status)
	assert.Equal(t, int64(900), done.Payment.EscrowAmount)
	require.Len(t, done.Payouts, 1)
	assert.Equal(t, int64(900), done.Payouts[0].Amount)

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/confirm", client, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.webhook(t, "/webhooks/payouts", "X-Payout-Signature", payoutSecret, map[string]any{
		"id":    "evt_transfer",
		"event": "transfer.success",
		"data":  map[string]any{"reference": done.Payouts[0].Reference, "transfer_id": "trsf_1"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/bookings/"+id, client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "SUCCESS", decode(t, w).Payouts[0].Status)
}

func TestBookingErrors(t *testing.T) {
	s := newServer(t)
	client := s.token(t, s.client, domain.RoleClient)
	stranger := s.token(t, uuid.New(), domain.RoleClient)
	admin := s.token(t, s.admin, domain.RoleAdmin)

	id, _ := s.createAndFund(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"bad id", http.MethodGet, "/api/v1/bookings/not-a-uuid", client, nil, http.StatusBadRequest},
		{"unknown booking", http.MethodGet, "/api/v1/bookings/" + uuid.NewString(), admin, nil, http.StatusNotFound},
		{"not a party", http.MethodGet, "/api/v1/bookings/" + id, stranger, nil, http.StatusForbidden},
		{"confirm before proof", http.MethodPost, "/api/v1/bookings/" + id + "/confirm", client, nil, http.StatusConflict},
		{"dispute without reason", http.MethodPost, "/api/v1/bookings/" + id + "/dispute", client, map[string]any{}, http.StatusBadRequest},
		{"resolve without outcome", http.MethodPost, "/api/v1/bookings/" + id + "/dispute/resolve", admin, map[string]any{}, http.StatusBadRequest},
		{"bad create body", http.MethodPost, "/api/v1/bookings", client, map[string]any{"total_amount": "lots"}, http.StatusBadRequest},
		{"invalid currency", http.MethodPost, "/api/v1/bookings", client, map[string]any{
			"provider_id": s.provider.String(), "service_id": uuid.NewString(),
			"scheduled_at": "2026-04-03T10:00:00Z", "duration_minutes": 30,
			"total_amount": 500, "currency": "ZZZZ",
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCancelAndDispute(t *testing.T) {
	s := newServer(t)
	client := s.token(t, s.client, domain.RoleClient)
	admin := s.token(t, s.admin, domain.RoleAdmin)

	cancelled, _ := s.createAndFund(t)
	w := s.do(t, http.MethodPost, "/api/v1/bookings/"+cancelled+"/cancel", client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "CANCELLED", body.Status)
	assert.Equal(t, "REFUNDED", body.Payment.Status)

	disputed, _ := s.createAndFund(t)
	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+disputed+"/dispute", client, map[string]any{"reason": "no show"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "DISPUTED", decode(t, w).Status)

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+disputed+"/dispute/resolve", admin, map[string]any{"outcome": "RELEASE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	released := decode(t, w)
	assert.Equal(t, "COMPLETED", released.Status)
	require.Len(t, released.Payouts, 1)
}

func TestGatewayWebhook(t *testing.T) {
	s := newServer(t)
	_, accepted := s.createAndFund(t)
	ref := accepted.Payment.Reference

	t.Run("duplicate delivery", func(t *testing.T) {
		writes := s.store.Writes()
		w := s.capture(t, "evt_dup", ref, 1000)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"status":"duplicate"}`, w.Body.String())
		assert.Equal(t, writes, s.store.Writes())
	})

	t.Run("bad signature", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", "wrong", map[string]any{"id": "evt_x", "event": "charge.success"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", gatewaySecret, map[string]any{
			"id": "evt_big", "event": "charge.success",
			"data": map[string]any{"failure_reason": strings.Repeat("x", 1<<20)},
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("payout secret does not sign gateway events", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", payoutSecret, map[string]any{"id": "evt_x", "event": "charge.success"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", gatewaySecret, map[string]any{
			"id": "evt_x", "event": "charge.success", "extra": true,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing transaction id", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", gatewaySecret, map[string]any{
			"id": "evt_x", "event": "charge.success",
			"data": map[string]any{"reference": ref, "amount": 1000, "currency": "USD"},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("ignored type", func(t *testing.T) {
		w := s.webhook(t, "/webhooks/gateway", "X-Gateway-Signature", gatewaySecret, map[string]any{
			"id": "evt_x", "event": "charge.pending", "data": map[string]any{"anything": 1},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	})

	t.Run("unknown reference", func(t *testing.T) {
		w := s.capture(t, "evt_unknown", "pay_missing", 1000)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		_, other := s.createAndFundAccepted(t)
		w := s.capture(t, "evt_short", other, 999)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

// createAndFundAccepted stops after acceptance and returns the payment
// reference awaiting capture.
func (s *server) createAndFundAccepted(t *testing.T) (string, string) {
	t.Helper()

	client := s.token(t, s.client, domain.RoleClient)
	provider := s.token(t, s.provider, domain.RoleProvider)

	w := s.do(t, http.MethodPost, "/api/v1/bookings", client, map[string]any{
		"provider_id":      s.provider.String(),
		"service_id":       uuid.NewString(),
		"scheduled_at":     "2026-04-05T10:00:00Z",
		"duration_minutes": 60,
		"total_amount":     1000,
		"currency":         "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w).ID

	w = s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/accept", provider, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	return id, decode(t, w).Payment.Reference
}

func TestAdminEndpoints(t *testing.T) {
	s := newServer(t)
	admin := s.token(t, s.admin, domain.RoleAdmin)
	client := s.token(t, s.client, domain.RoleClient)
	provider := s.token(t, s.provider, domain.RoleProvider)

	id, _ := s.createAndFund(t)
	s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/start", provider, nil)
	s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/proof", provider, map[string]any{"photos": []string{"a.jpg"}})
	w := s.do(t, http.MethodPost, "/api/v1/bookings/"+id+"/confirm", client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var full struct {
		Payment struct {
			ID string `json:"id"`
		} `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/admin/payments/%s/payouts/retry", full.Payment.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "payout still pending")

	w = s.do(t, http.MethodGet, "/api/v1/admin/reconciliation", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rep domain.ReconciliationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	assert.Equal(t, 1, rep.BookingsCount)
	assert.Empty(t, rep.Violations)

	w = s.do(t, http.MethodGet, "/api/v1/admin/reconciliation?format=xlsx", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reconciliation_")
	assert.NotZero(t, w.Body.Len())

	w = s.do(t, http.MethodGet, "/api/v1/admin/reconciliation?format=csv", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
