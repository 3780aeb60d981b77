package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/store"
)

func (h *Handler) ListOrders(c *gin.Context) {
	limit := store.DefaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperrors.Validation("invalid limit").With("limit", raw))
			return
		}
		limit = n
	}

	cursor := c.Query("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		respondError(c, apperrors.Validation("invalid cursor").With("cursor", cursor))
		return
	}

	page, err := h.Orders.ListOrdersCursor(c.Request.Context(), actorFrom(c).UserID, cursor, store.ClampPageSize(limit))
	if err != nil {
		respondError(c, apperrors.Storage("list orders", err))
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	order, err := h.Lifecycle.Get(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.Lifecycle.Cancel(c.Request.Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderView(order))
}
