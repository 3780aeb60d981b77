package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
)

type setStatusRequest struct {
	Status         string  `json:"status" binding:"required"`
	TrackingNumber *string `json:"trackingNumber"`
}

func (h *Handler) SetOrderStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	status, ok := models.ParseOrderStatus(req.Status)
	if !ok {
		respondError(c, apperrors.Validation("unknown order status").With("status", req.Status))
		return
	}

	order, err := h.Lifecycle.SetStatus(c.Request.Context(), id, status, req.TrackingNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}

func (h *Handler) BackfillCommissions(c *gin.Context) {
	report, err := h.Commission.Backfill(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type restockRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

func (h *Handler) RestockVariant(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req restockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	entry, err := h.Ledger.Restock(c.Request.Context(), id, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) VariantLedger(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	report, err := h.Ledger.Audit(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type assignPartnerRequest struct {
	PartnerID         int64           `json:"partnerId" binding:"required"`
	CommissionPercent decimal.Decimal `json:"commissionPercent"`
}

func (h *Handler) AssignCouponPartner(c *gin.Context) {
	couponID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req assignPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	assignment, err := h.Commission.AssignPartner(c.Request.Context(), couponID, req.PartnerID, req.CommissionPercent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}
