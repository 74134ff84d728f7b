package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
)

type BookingHandler struct {
	svc *services.BookingService
	log *slog.Logger
}

func NewBookingHandler(svc *services.BookingService, log *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, log: log}
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required"`
}

// POST /api/v1/bookings
func (h *BookingHandler) Create(c *gin.Context) {
	var req services.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	actor, _ := actorFrom(c)
	view, err := h.svc.Create(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, newBookingResponse(view))
}

// GET /api/v1/bookings/:id
func (h *BookingHandler) Get(c *gin.Context) {
	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Get(c.Request.Context(), actor, id)
	})
}

// POST /api/v1/bookings/:id/accept
func (h *BookingHandler) Accept(c *gin.Context) {
	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Accept(c.Request.Context(), actor, id)
	})
}

// POST /api/v1/bookings/:id/start
func (h *BookingHandler) Start(c *gin.Context) {
	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Start(c.Request.Context(), actor, id)
	})
}

// POST /api/v1/bookings/:id/proof
func (h *BookingHandler) SubmitProof(c *gin.Context) {
	var req services.SubmitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.SubmitProof(c.Request.Context(), actor, id, req)
	})
}

// POST /api/v1/bookings/:id/confirm
func (h *BookingHandler) Confirm(c *gin.Context) {
	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Confirm(c.Request.Context(), actor, id)
	})
}

// POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
			return
		}
	}

	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Cancel(c.Request.Context(), actor, id, req.Reason)
	})
}

// POST /api/v1/bookings/:id/dispute
func (h *BookingHandler) Dispute(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}

	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.Dispute(c.Request.Context(), actor, id, req.Reason)
	})
}

// POST /api/v1/bookings/:id/dispute/resolve
func (h *BookingHandler) ResolveDispute(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "outcome is required"})
		return
	}

	h.run(c, func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error) {
		return h.svc.ResolveDispute(c.Request.Context(), actor, id, domain.DisputeOutcome(req.Outcome))
	})
}

func (h *BookingHandler) run(c *gin.Context, fn func(actor domain.Actor, id uuid.UUID) (*services.BookingView, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	actor, _ := actorFrom(c)
	view, err := fn(actor, id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, newBookingResponse(view))
}
