package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safar/settlement-core/internal/payment"
)

type paymentIntentRequest struct {
	CouponCode string `json:"couponCode"`
}

func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	var req paymentIntentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	intent, err := h.Gate.CreateIntent(c.Request.Context(), actorFrom(c).UserID, req.CouponCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId" binding:"required"`
	GatewayPaymentID string `json:"gatewayPaymentId" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
	AddressID        int64  `json:"addressId" binding:"required"`
	BillingAddressID *int64 `json:"billingAddressId"`
	CouponCode       string `json:"couponCode"`
}

func (h *Handler) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.Gate.Verify(c.Request.Context(), payment.VerifyRequest{
		UserID:           actorFrom(c).UserID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		AddressID:        req.AddressID,
		BillingAddressID: req.BillingAddressID,
		CouponCode:       req.CouponCode,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orderId":     result.OrderID,
		"orderNumber": result.OrderNumber,
		"paymentId":   result.PaymentID,
	})
}
