// Package payment verifies gateway payment assertions before they reach
// the order engine, and talks to the gateway itself.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/orders"
	"github.com/shopspring/decimal"
)

const fetchTimeout = 5 * time.Second

// Checkout is the part of the order engine the gate drives.
type Checkout interface {
	Quote(ctx context.Context, userID int64, couponCode string) (*orders.Quote, error)
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*models.Order, error)
}

type PaymentLookup interface {
	PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.PaymentRecord, error)
}

type Gate struct {
	signer   *Signer
	payments PaymentLookup
	gateway  Gateway
	checkout Checkout
	keyID    string
}

func NewGate(signer *Signer, payments PaymentLookup, gateway Gateway, checkout Checkout, keyID string) *Gate {
	return &Gate{
		signer:   signer,
		payments: payments,
		gateway:  gateway,
		checkout: checkout,
		keyID:    keyID,
	}
}

type VerifyRequest struct {
	UserID           int64
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	AddressID        int64
	BillingAddressID *int64
	CouponCode       string
}

type VerifyResult struct {
	OrderID     int64         `json:"orderId"`
	OrderNumber string        `json:"orderNumber"`
	PaymentID   string        `json:"paymentId"`
	Order       *models.Order `json:"order"`
}

// Verify checks the signature, rejects known payment ids, captures the
// settlement method from the gateway and hands the payment to checkout.
// The gateway call happens before any unit of work is opened.
func (g *Gate) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	req.GatewayOrderID = strings.TrimSpace(req.GatewayOrderID)
	req.GatewayPaymentID = strings.TrimSpace(req.GatewayPaymentID)
	if req.GatewayOrderID == "" || req.GatewayPaymentID == "" || req.Signature == "" {
		return nil, apperrors.Validation("gateway order id, payment id and signature are required")
	}
	if req.AddressID <= 0 {
		return nil, apperrors.Validation("shipping address is required")
	}

	if !g.signer.Verify(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		log.Warn().
			Str("gatewayOrderId", req.GatewayOrderID).
			Str("paymentId", req.GatewayPaymentID).
			Int64("userId", req.UserID).
			Msg("payment signature mismatch")
		return nil, apperrors.InvalidSignature()
	}

	if _, err := g.payments.PaymentByGatewayID(ctx, req.GatewayPaymentID); err == nil {
		return nil, apperrors.DuplicatePayment(req.GatewayPaymentID)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.Storage("check payment", err)
	}

	verified := orders.VerifiedPayment{
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
		Method:           models.PaymentMethodUnknown,
	}
	g.captureSettlement(ctx, &verified)

	order, err := g.checkout.PlaceOrder(ctx, orders.PlaceOrderRequest{
		UserID:           req.UserID,
		AddressID:        req.AddressID,
		BillingAddressID: req.BillingAddressID,
		CouponCode:       req.CouponCode,
		Payment:          verified,
	})
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		PaymentID:   req.GatewayPaymentID,
		Order:       order,
	}, nil
}

func (g *Gate) captureSettlement(ctx context.Context, verified *orders.VerifiedPayment) {
	if g.gateway == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	p, err := g.gateway.FetchPayment(ctx, verified.GatewayPaymentID)
	if err != nil {
		log.Warn().Err(err).Str("paymentId", verified.GatewayPaymentID).Msg("could not fetch payment details, recording method as unknown")
		return
	}
	if p.OrderID != "" && p.OrderID != verified.GatewayOrderID {
		log.Warn().
			Str("paymentId", verified.GatewayPaymentID).
			Str("gatewayOrderId", verified.GatewayOrderID).
			Str("reportedOrderId", p.OrderID).
			Msg("gateway reports a different order for payment")
	}
	if p.Method != "" {
		verified.Method = p.Method
	}
	if p.Amount > 0 {
		verified.Amount = decimal.NewNullDecimal(p.MajorAmount())
	}
}

type Intent struct {
	GatewayOrderID string        `json:"gatewayOrderId"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	KeyID          string        `json:"keyId"`
	Quote          *orders.Quote `json:"quote"`
}

// CreateIntent quotes the caller's selection and opens a gateway payment
// intent for its total.
func (g *Gate) CreateIntent(ctx context.Context, userID int64, couponCode string) (*Intent, error) {
	quote, err := g.checkout.Quote(ctx, userID, couponCode)
	if err != nil {
		return nil, err
	}
	if g.gateway == nil {
		return nil, apperrors.Gateway("payment gateway not configured", nil)
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	gwOrder, err := g.gateway.CreateOrder(ctx, quote.Total, quote.Currency, receipt)
	if err != nil {
		return nil, apperrors.Gateway("create payment intent", err)
	}

	log.Info().
		Int64("userId", userID).
		Str("gatewayOrderId", gwOrder.ID).
		Str("total", quote.Total.StringFixed(2)).
		Msg("payment intent created")
	return &Intent{
		GatewayOrderID: gwOrder.ID,
		Amount:         gwOrder.Amount,
		Currency:       gwOrder.Currency,
		KeyID:          g.keyID,
		Quote:          quote,
	}, nil
}
