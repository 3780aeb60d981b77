// Package orders turns verified payments into orders and drives their
// lifecycle afterwards.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/inventory"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/notify"
	"github.com/safar/settlement-core/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultNotifyTimeout = 5 * time.Second

	maxOrderNumberAttempts = 3
)

// VerifiedPayment is a payment assertion whose signature has already been
// checked.
type VerifiedPayment struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Method           string
	Amount           decimal.NullDecimal
}

type PlaceOrderRequest struct {
	UserID           int64
	AddressID        int64
	BillingAddressID *int64
	CouponCode       string
	Payment          VerifiedPayment
}

type Engine struct {
	store         store.Store
	pricing       Pricing
	discounts     DiscountPolicy
	notifier      notify.Sender
	notifyTimeout time.Duration
	orderNumber   func(time.Time) string
}

func NewEngine(s store.Store, pricing Pricing, discounts DiscountPolicy, notifier notify.Sender) *Engine {
	if discounts == nil {
		discounts = CouponPolicy{}
	}
	return &Engine{
		store:         s,
		pricing:       pricing,
		discounts:     discounts,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
		orderNumber:   generateOrderNumber,
	}
}

// Quote prices the caller's current selection without writing anything.
func (e *Engine) Quote(ctx context.Context, userID int64, couponCode string) (*Quote, error) {
	selections, err := e.store.ListSelections(ctx, userID)
	if err != nil {
		return nil, apperrors.Storage("list selections", err)
	}
	if len(selections) == 0 {
		return nil, apperrors.EmptySelection()
	}

	variants, err := e.store.GetVariants(ctx, variantIDs(selections))
	if err != nil {
		return nil, apperrors.Storage("get variants", err)
	}
	lines, subTotal, err := priceLines(selections, variants)
	if err != nil {
		return nil, err
	}
	discount, err := e.discounts.Discount(ctx, e.store, couponCode, subTotal)
	if err != nil {
		return nil, err
	}

	quote := e.pricing.Totals(subTotal, discount)
	quote.Lines = lines
	return quote, nil
}

// PlaceOrder creates a PAID order from the caller's selection in a single
// unit of work: order, payment record, items, stock debits with their log
// entries, and clearing the selection. Nothing is written on failure.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	if req.Payment.GatewayPaymentID == "" {
		return nil, apperrors.Validation("gateway payment id is required")
	}

	var (
		order *models.Order
		err   error
	)
	for attempt := 1; ; attempt++ {
		order, err = e.settle(ctx, req)
		if err == nil || !errors.Is(err, database.ErrDuplicateOrderNumber) || attempt == maxOrderNumberAttempts {
			break
		}
		log.Warn().
			Int("attempt", attempt).
			Str("paymentId", req.Payment.GatewayPaymentID).
			Msg("order number collision, retrying")
	}
	if err != nil {
		return nil, apperrors.OrStorage("place order", err)
	}

	if req.Payment.Amount.Valid && !req.Payment.Amount.Decimal.Equal(order.Total) {
		log.Warn().
			Int64("orderId", order.ID).
			Str("paymentId", req.Payment.GatewayPaymentID).
			Str("gatewayAmount", req.Payment.Amount.Decimal.StringFixed(2)).
			Str("orderTotal", order.Total.StringFixed(2)).
			Msg("gateway amount differs from order total")
	}
	log.Info().
		Int64("orderId", order.ID).
		Str("orderNumber", order.OrderNumber).
		Str("paymentId", req.Payment.GatewayPaymentID).
		Int64("userId", order.UserID).
		Str("total", order.Total.StringFixed(2)).
		Msg("order placed")

	notify.Dispatch(ctx, e.notifier, e.notifyTimeout, notify.OrderEvent(notify.EventOrderConfirmed, order))
	return order, nil
}

// settle runs the checkout unit of work. The payment replay check follows
// the selection lock: a concurrent callback for the same payment waits on
// that lock and then sees the committed payment row.
func (e *Engine) settle(ctx context.Context, req PlaceOrderRequest) (*models.Order, error) {
	var order *models.Order
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		order = nil

		selections, err := tx.LockSelections(ctx, req.UserID)
		if err != nil {
			return apperrors.Storage("lock selections", err)
		}

		exists, err := tx.PaymentExists(ctx, req.Payment.GatewayPaymentID)
		if err != nil {
			return apperrors.Storage("check payment", err)
		}
		if exists {
			return apperrors.DuplicatePayment(req.Payment.GatewayPaymentID)
		}
		if len(selections) == 0 {
			return apperrors.EmptySelection()
		}

		if err := ownAddress(ctx, tx, req.UserID, req.AddressID); err != nil {
			return err
		}
		if req.BillingAddressID != nil {
			if err := ownAddress(ctx, tx, req.UserID, *req.BillingAddressID); err != nil {
				return err
			}
		}

		variants, err := tx.LockVariants(ctx, variantIDs(selections))
		if err != nil {
			return apperrors.Storage("lock variants", err)
		}
		lines, subTotal, err := priceLines(selections, variants)
		if err != nil {
			return err
		}
		discount, err := e.discounts.Discount(ctx, tx, req.CouponCode, subTotal)
		if err != nil {
			return err
		}
		quote := e.pricing.Totals(subTotal, discount)

		o := &models.Order{
			UserID:           req.UserID,
			OrderNumber:      e.orderNumber(time.Now()),
			Status:           models.OrderStatusPaid,
			AddressID:        req.AddressID,
			BillingAddressID: req.BillingAddressID,
			SubTotal:         quote.SubTotal,
			Tax:              quote.Tax,
			ShippingCost:     quote.ShippingCost,
			Discount:         quote.Discount,
			Total:            quote.Total,
			CouponID:         quote.CouponID,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return apperrors.Storage("create order", err)
		}

		payment := &models.PaymentRecord{
			OrderID:          o.ID,
			GatewayOrderID:   req.Payment.GatewayOrderID,
			GatewayPaymentID: req.Payment.GatewayPaymentID,
			Signature:        req.Payment.Signature,
			Method:           paymentMethod(req.Payment.Method),
			Amount:           o.Total,
			Status:           models.PaymentStatusCaptured,
		}
		if req.Payment.Amount.Valid {
			payment.Amount = req.Payment.Amount.Decimal
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			if errors.Is(err, database.ErrDuplicatePayment) {
				return apperrors.DuplicatePayment(req.Payment.GatewayPaymentID)
			}
			return apperrors.Storage("record payment", err)
		}

		for _, line := range lines {
			item := &models.OrderItem{
				OrderID:   o.ID,
				VariantID: line.VariantID,
				Quantity:  line.Quantity,
				Price:     line.Price,
				Subtotal:  line.Subtotal,
			}
			if err := tx.InsertOrderItem(ctx, item); err != nil {
				return apperrors.Storage("create order item", err)
			}
			if _, err := inventory.Debit(ctx, tx, line.VariantID, line.Quantity, o.ID); err != nil {
				return err
			}
			o.Items = append(o.Items, *item)
		}

		if err := tx.ClearSelections(ctx, req.UserID); err != nil {
			return apperrors.Storage("clear selections", err)
		}

		o.Payment = payment
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func ownAddress(ctx context.Context, tx store.Tx, userID, addressID int64) error {
	if _, err := tx.GetAddress(ctx, userID, addressID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apperrors.AddressNotFound(addressID)
		}
		return apperrors.Storage("get address", err)
	}
	return nil
}

func variantIDs(selections []models.Selection) []int64 {
	ids := make([]int64, 0, len(selections))
	for _, s := range selections {
		ids = append(ids, s.VariantID)
	}
	return ids
}

func paymentMethod(method string) string {
	if method = strings.TrimSpace(method); method == "" {
		return models.PaymentMethodUnknown
	}
	return method
}

func generateOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
