package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
)

const orderColumns = `id, user_id, order_number, status, address_id, billing_address_id,
	sub_total, tax, shipping_cost, discount, total, coupon_id,
	tracking_number, cancel_reason, cancelled_at, created_at, updated_at, version`

const orderNumberConstraint = "orders_order_number_key"

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, address_id, billing_address_id,
		                     sub_total, tax, shipping_cost, discount, total, coupon_id,
		                     created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.OrderNumber, order.Status, order.AddressID, order.BillingAddressID,
		order.SubTotal, order.Tax, order.ShippingCost, order.Discount, order.Total, order.CouponID).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		if database.IsUniqueViolation(err, orderNumberConstraint) {
			return database.ErrDuplicateOrderNumber
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO order_items (order_id, variant_id, quantity, price, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		item.OrderID, item.VariantID, item.Quantity, item.Price, item.Subtotal).
		Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order item: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order := &models.Order{}
	err := t.tx.GetContext(ctx, order,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE id = $1
		 FOR UPDATE`,
		orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

func (t *pgTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return orderItems(ctx, t.tx, orderID)
}

func orderItems(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		`SELECT id, order_id, variant_id, quantity, price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	return items, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus, trackingNumber *string) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2,
		     tracking_number = COALESCE($3, tracking_number),
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $1`,
		orderID, status, trackingNumber)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectOneRow(result)
}

func (t *pgTx) MarkOrderCancelled(ctx context.Context, orderID int64, reason string, at time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2,
		     cancel_reason = $3,
		     cancelled_at = $4,
		     updated_at = NOW(),
		     version = version + 1
		 WHERE id = $1`,
		orderID, models.OrderStatusCancelled, reason, at)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return expectOneRow(result)
}

func (s *Postgres) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.GetContext(ctx, order,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if order.Items, err = orderItems(ctx, s.db, orderID); err != nil {
		return nil, err
	}

	payment := &models.PaymentRecord{}
	err = s.db.GetContext(ctx, payment,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE order_id = $1
		 ORDER BY id DESC
		 LIMIT 1`,
		orderID)
	switch {
	case err == nil:
		order.Payment = payment
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("get order payment: %w", err)
	}

	return order, nil
}

func (s *Postgres) ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	var orders []models.Order
	err = s.db.SelectContext(ctx, &orders,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		   AND (created_at, id) < ($2, $3)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $4`,
		userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	return NewCursorPage(orders, limit), nil
}

func (s *Postgres) ListDeliveredOrdersMissingEarnings(ctx context.Context, afterID int64, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT `+orderColumns+`
		 FROM orders o
		 WHERE o.status = $1
		   AND o.coupon_id IS NOT NULL
		   AND o.id > $2
		   AND o.sub_total - o.discount > 0
		   AND NOT EXISTS (SELECT 1 FROM partner_earnings pe WHERE pe.order_id = o.id)
		   AND EXISTS (
		       SELECT 1 FROM coupon_partners cp
		       WHERE cp.coupon_id = o.coupon_id AND cp.commission_percent > 0)
		 ORDER BY o.id
		 LIMIT $3`,
		models.OrderStatusDelivered, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders missing earnings: %w", err)
	}
	return orders, nil
}

func expectOneRow(result sql.Result) error {
	n, err := rowsAffected(result)
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}
	return nil
}
