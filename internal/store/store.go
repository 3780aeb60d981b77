// Package store holds the repository and unit-of-work contracts of the
// settlement core and their PostgreSQL implementation.
package store

import (
	"context"
	"time"

	"github.com/safar/settlement-core/internal/models"
)

// Store is the injected persistence dependency. Reads outside a unit of
// work go through Reader; every mutation goes through InTx.
type Store interface {
	Reader
	// InTx runs fn inside one all-or-nothing unit of work. Transient
	// conflicts are retried; fn may therefore run more than once.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

type Reader interface {
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error)
	PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.PaymentRecord, error)
	ListSelections(ctx context.Context, userID int64) ([]models.Selection, error)
	GetVariant(ctx context.Context, variantID int64) (*models.Variant, error)
	GetVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error)
	GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error)
	CouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	ListInventoryLog(ctx context.Context, variantID int64) ([]models.InventoryLogEntry, error)
	// ListDeliveredOrdersMissingEarnings returns delivered, coupon-bearing
	// orders with at least one commission-bearing partner and no partner
	// earning rows at all, in ascending id order after afterID.
	ListDeliveredOrdersMissingEarnings(ctx context.Context, afterID int64, limit int) ([]models.Order, error)
	// ListPartnerEarnings returns the partner's earnings whose order is
	// DELIVERED and was created at or after since.
	ListPartnerEarnings(ctx context.Context, partnerID int64, since time.Time) ([]models.EarningRow, error)
}

// Tx is a unit of work. Implementations lock rows where the method name
// says so; everything written through a Tx commits or rolls back together.
type Tx interface {
	InsertUser(ctx context.Context, user *models.User) error
	InsertAddress(ctx context.Context, address *models.Address) error
	GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error)

	UpsertSelection(ctx context.Context, selection *models.Selection) error
	LockSelections(ctx context.Context, userID int64) ([]models.Selection, error)
	ClearSelections(ctx context.Context, userID int64) error

	// InsertVariant journals a positive opening QuantityOnHand as a restock
	// entry in the same unit of work.
	InsertVariant(ctx context.Context, variant *models.Variant) error
	// LockVariants locks the variant rows in ascending id order.
	LockVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error)
	// AdjustStock applies delta to quantity_on_hand and returns the
	// quantities before and after. It fails with database.ErrInsufficientStock
	// instead of going below zero.
	AdjustStock(ctx context.Context, variantID int64, delta int) (previous, next int, err error)
	InsertInventoryLog(ctx context.Context, entry *models.InventoryLogEntry) error

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus, trackingNumber *string) error
	MarkOrderCancelled(ctx context.Context, orderID int64, reason string, at time.Time) error

	PaymentExists(ctx context.Context, gatewayPaymentID string) (bool, error)
	// InsertPayment fails with database.ErrDuplicatePayment when the gateway
	// payment id is already recorded.
	InsertPayment(ctx context.Context, payment *models.PaymentRecord) error
	SetPaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error

	InsertCoupon(ctx context.Context, coupon *models.Coupon) error
	CouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	InsertPartner(ctx context.Context, partner *models.Partner) error
	// AssignCouponPartner fails with database.ErrDuplicateAssignment when the
	// partner is already attached to the coupon.
	AssignCouponPartner(ctx context.Context, assignment *models.CouponPartnerAssignment) error
	CouponPartners(ctx context.Context, couponID int64) ([]models.CouponPartnerAssignment, error)
	// InsertPartnerEarning reports false without error when the
	// (partner, order) pair already has an earning.
	InsertPartnerEarning(ctx context.Context, earning *models.PartnerEarning) (bool, error)
}
