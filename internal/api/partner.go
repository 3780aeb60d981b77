package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/commission"
)

func (h *Handler) PartnerEarnings(c *gin.Context) {
	partnerID := c.GetInt64(ctxPartnerID)
	if partnerID <= 0 {
		respondError(c, apperrors.Forbidden("token carries no partner id"))
		return
	}
	period, err := commission.ParsePeriod(c.Query("period"))
	if err != nil {
		respondError(c, err)
		return
	}

	view, err := h.Commission.PartnerEarnings(c.Request.Context(), partnerID, period, h.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
