package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Address struct {
	ID         int64     `json:"id" db:"id"`
	UserID     int64     `json:"user_id" db:"user_id"`
	Line1      string    `json:"line1" db:"line1"`
	City       string    `json:"city" db:"city"`
	PostalCode string    `json:"postal_code" db:"postal_code"`
	Country    string    `json:"country" db:"country"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Variant is a sellable SKU. QuantityOnHand only moves through the
// inventory ledger.
type Variant struct {
	ID             int64               `json:"id" db:"id"`
	ProductID      int64               `json:"product_id" db:"product_id"`
	SKU            string              `json:"sku" db:"sku"`
	Flavor         string              `json:"flavor" db:"flavor"`
	Size           string              `json:"size" db:"size"`
	Price          decimal.Decimal     `json:"price" db:"price"`
	SalePrice      decimal.NullDecimal `json:"sale_price" db:"sale_price"`
	QuantityOnHand int                 `json:"quantity_on_hand" db:"quantity_on_hand"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at" db:"updated_at"`
	Version        int                 `json:"version" db:"version"`
}

// EffectivePrice prefers an active sale price over the list price.
func (v *Variant) EffectivePrice() decimal.Decimal {
	if v.SalePrice.Valid && v.SalePrice.Decimal.IsPositive() {
		return v.SalePrice.Decimal
	}
	return v.Price
}

// Selection is one entry of a user's pending selection set (cart).
type Selection struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	VariantID int64     `json:"variant_id" db:"variant_id"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type InventoryReason string

const (
	InventoryReasonSale         InventoryReason = "sale"
	InventoryReasonCancellation InventoryReason = "cancellation"
	InventoryReasonRestock      InventoryReason = "restock"
)

type InventoryLogEntry struct {
	ID               int64           `json:"id" db:"id"`
	VariantID        int64           `json:"variant_id" db:"variant_id"`
	QuantityChange   int             `json:"quantity_change" db:"quantity_change"`
	Reason           InventoryReason `json:"reason" db:"reason"`
	ReferenceID      *int64          `json:"reference_id,omitempty" db:"reference_id"`
	PreviousQuantity int             `json:"previous_quantity" db:"previous_quantity"`
	NewQuantity      int             `json:"new_quantity" db:"new_quantity"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// OpeningStockEntry is the restock entry that journals the stock a variant
// is created with, or nil when it starts empty.
func OpeningStockEntry(v *Variant) *InventoryLogEntry {
	if v.QuantityOnHand <= 0 {
		return nil
	}
	return &InventoryLogEntry{
		VariantID:        v.ID,
		QuantityChange:   v.QuantityOnHand,
		Reason:           InventoryReasonRestock,
		PreviousQuantity: 0,
		NewQuantity:      v.QuantityOnHand,
	}
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

func ParseOrderStatus(s string) (OrderStatus, bool) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return st, true
	}
	return "", false
}

type Order struct {
	ID               int64           `json:"id" db:"id"`
	UserID           int64           `json:"user_id" db:"user_id"`
	OrderNumber      string          `json:"order_number" db:"order_number"`
	Status           OrderStatus     `json:"status" db:"status"`
	AddressID        int64           `json:"address_id" db:"address_id"`
	BillingAddressID *int64          `json:"billing_address_id,omitempty" db:"billing_address_id"`
	SubTotal         decimal.Decimal `json:"sub_total" db:"sub_total"`
	Tax              decimal.Decimal `json:"tax" db:"tax"`
	ShippingCost     decimal.Decimal `json:"shipping_cost" db:"shipping_cost"`
	Discount         decimal.Decimal `json:"discount" db:"discount"`
	Total            decimal.Decimal `json:"total" db:"total"`
	CouponID         *int64          `json:"coupon_id,omitempty" db:"coupon_id"`
	TrackingNumber   *string         `json:"tracking_number,omitempty" db:"tracking_number"`
	CancelReason     *string         `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
	Version          int             `json:"version" db:"version"`
	Items            []OrderItem     `json:"items,omitempty" db:"-"`
	Payment          *PaymentRecord  `json:"payment,omitempty" db:"-"`
}

// CommissionBase is the discounted order value partner earnings are
// computed from.
func (o *Order) CommissionBase() decimal.Decimal {
	return o.SubTotal.Sub(o.Discount)
}

// OrderItem is a price snapshot taken at the time of sale.
type OrderItem struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   int64           `json:"order_id" db:"order_id"`
	VariantID int64           `json:"variant_id" db:"variant_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Subtotal  decimal.Decimal `json:"subtotal" db:"subtotal"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type PaymentStatus string

const (
	PaymentStatusCaptured      PaymentStatus = "captured"
	PaymentStatusRefundPending PaymentStatus = "refund_pending"
	PaymentStatusRefunded      PaymentStatus = "refunded"
)

const PaymentMethodUnknown = "unknown"

type PaymentRecord struct {
	ID               int64           `json:"id" db:"id"`
	OrderID          int64           `json:"order_id" db:"order_id"`
	GatewayOrderID   string          `json:"gateway_order_id" db:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id" db:"gateway_payment_id"`
	Signature        string          `json:"-" db:"signature"`
	Method           string          `json:"method" db:"method"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Status           PaymentStatus   `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

const (
	DiscountTypePercent = "percent"
	DiscountTypeFixed   = "fixed"
)

type Coupon struct {
	ID            int64           `json:"id" db:"id"`
	Code          string          `json:"code" db:"code"`
	DiscountType  string          `json:"discount_type" db:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value" db:"discount_value"`
	Active        bool            `json:"active" db:"active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

type Partner struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CouponPartnerAssignment struct {
	ID                int64           `json:"id" db:"id"`
	CouponID          int64           `json:"coupon_id" db:"coupon_id"`
	PartnerID         int64           `json:"partner_id" db:"partner_id"`
	CommissionPercent decimal.Decimal `json:"commission_percent" db:"commission_percent"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// PartnerEarning is immutable; at most one row per (partner, order).
type PartnerEarning struct {
	ID         int64           `json:"id" db:"id"`
	PartnerID  int64           `json:"partner_id" db:"partner_id"`
	OrderID    int64           `json:"order_id" db:"order_id"`
	CouponID   int64           `json:"coupon_id" db:"coupon_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Percentage decimal.Decimal `json:"percentage" db:"percentage"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// EarningRow is a partner earning joined with its delivered order.
type EarningRow struct {
	PartnerEarning
	OrderNumber    string          `json:"order_number" db:"order_number"`
	OrderTotal     decimal.Decimal `json:"order_total" db:"order_total"`
	OrderCreatedAt time.Time       `json:"order_created_at" db:"order_created_at"`
}
