package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/srgjo27/escrow_ledger/internal/adapter/report"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
)

type AdminHandler struct {
	payouts        *services.PayoutService
	reconciliation *services.ReconciliationService
	log            *slog.Logger
}

func NewAdminHandler(payouts *services.PayoutService, reconciliation *services.ReconciliationService, log *slog.Logger) *AdminHandler {
	return &AdminHandler{payouts: payouts, reconciliation: reconciliation, log: log}
}

// POST /api/v1/admin/payments/:id/payouts/retry
func (h *AdminHandler) RetryPayout(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payment id"})
		return
	}

	actor, _ := actorFrom(c)
	payout, err := h.payouts.Retry(c.Request.Context(), actor, paymentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, newPayoutResponse(payout))
}

// GET /api/v1/admin/reconciliation?format=json|xlsx
func (h *AdminHandler) Reconciliation(c *gin.Context) {
	format := c.DefaultQuery("format", "json")
	if format != "json" && format != "xlsx" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or xlsx"})
		return
	}

	rep, err := h.reconciliation.Run(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	if format == "json" {
		c.JSON(http.StatusOK, rep)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.ReconciliationFilename(rep.GeneratedAt)))
	c.Header("Content-Transfer-Encoding", "binary")
	c.Status(http.StatusOK)

	if err := report.WriteReconciliationXLSX(c.Writer, rep); err != nil {
		h.log.ErrorContext(c.Request.Context(), "failed to write reconciliation workbook", "error", err)
	}
}
