package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
)

const paymentColumns = `id, order_id, gateway_order_id, gateway_payment_id, signature,
	method, amount, status, created_at, updated_at`

const paymentIDConstraint = "payments_gateway_payment_id_key"

func (t *pgTx) PaymentExists(ctx context.Context, gatewayPaymentID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowxContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE gateway_payment_id = $1)",
		gatewayPaymentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO payments (order_id, gateway_order_id, gateway_payment_id, signature,
		                       method, amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.GatewayOrderID, payment.GatewayPaymentID, payment.Signature,
		payment.Method, payment.Amount, payment.Status).
		Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, paymentIDConstraint) {
			return database.ErrDuplicatePayment
		}
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

func (t *pgTx) SetPaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE payments SET status = $2, updated_at = NOW() WHERE order_id = $1`,
		orderID, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return expectOneRow(result)
}

func (s *Postgres) PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.PaymentRecord, error) {
	payment := &models.PaymentRecord{}
	err := s.db.GetContext(ctx, payment,
		`SELECT `+paymentColumns+` FROM payments WHERE gateway_payment_id = $1`,
		gatewayPaymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}
