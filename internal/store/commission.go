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

const couponPartnerConstraint = "coupon_partners_coupon_partner_key"

func (t *pgTx) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO coupons (code, discount_type, discount_value, active, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id, created_at`,
		coupon.Code, coupon.DiscountType, coupon.DiscountValue, coupon.Active).
		Scan(&coupon.ID, &coupon.CreatedAt)
	if err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}
	return nil
}

func (t *pgTx) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return couponByCode(ctx, t.tx, code)
}

func (s *Postgres) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return couponByCode(ctx, s.db, code)
}

func couponByCode(ctx context.Context, q sqlx.QueryerContext, code string) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	err := sqlx.GetContext(ctx, q, coupon,
		`SELECT id, code, discount_type, discount_value, active, created_at
		 FROM coupons
		 WHERE code = $1`,
		code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return coupon, nil
}

func (t *pgTx) InsertPartner(ctx context.Context, partner *models.Partner) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO partners (user_id, name, created_at)
		 VALUES ($1, $2, NOW())
		 RETURNING id, created_at`,
		partner.UserID, partner.Name).Scan(&partner.ID, &partner.CreatedAt)
	if err != nil {
		return fmt.Errorf("create partner: %w", err)
	}
	return nil
}

func (t *pgTx) AssignCouponPartner(ctx context.Context, assignment *models.CouponPartnerAssignment) error {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO coupon_partners (coupon_id, partner_id, commission_percent, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		assignment.CouponID, assignment.PartnerID, assignment.CommissionPercent).
		Scan(&assignment.ID, &assignment.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, couponPartnerConstraint) {
			return database.ErrDuplicateAssignment
		}
		if database.IsForeignKeyViolation(err) {
			return database.ErrNotFound
		}
		return fmt.Errorf("assign coupon partner: %w", err)
	}
	return nil
}

func (t *pgTx) CouponPartners(ctx context.Context, couponID int64) ([]models.CouponPartnerAssignment, error) {
	var assignments []models.CouponPartnerAssignment
	err := t.tx.SelectContext(ctx, &assignments,
		`SELECT id, coupon_id, partner_id, commission_percent, created_at
		 FROM coupon_partners
		 WHERE coupon_id = $1
		 ORDER BY partner_id`,
		couponID)
	if err != nil {
		return nil, fmt.Errorf("list coupon partners: %w", err)
	}
	return assignments, nil
}

func (t *pgTx) InsertPartnerEarning(ctx context.Context, earning *models.PartnerEarning) (bool, error) {
	err := t.tx.QueryRowxContext(ctx,
		`INSERT INTO partner_earnings (partner_id, order_id, coupon_id, amount, percentage, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (partner_id, order_id) DO NOTHING
		 RETURNING id, created_at`,
		earning.PartnerID, earning.OrderID, earning.CouponID, earning.Amount, earning.Percentage).
		Scan(&earning.ID, &earning.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("record partner earning: %w", err)
	}
	return true, nil
}

func (s *Postgres) ListPartnerEarnings(ctx context.Context, partnerID int64, since time.Time) ([]models.EarningRow, error) {
	var rows []models.EarningRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT pe.id, pe.partner_id, pe.order_id, pe.coupon_id, pe.amount, pe.percentage, pe.created_at,
		        o.order_number, o.total AS order_total, o.created_at AS order_created_at
		 FROM partner_earnings pe
		 JOIN orders o ON o.id = pe.order_id
		 WHERE pe.partner_id = $1
		   AND o.status = $2
		   AND o.created_at >= $3
		 ORDER BY o.created_at DESC, pe.id DESC`,
		partnerID, models.OrderStatusDelivered, since)
	if err != nil {
		return nil, fmt.Errorf("list partner earnings: %w", err)
	}
	return rows, nil
}
