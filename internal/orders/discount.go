package orders

import (
	"context"
	"errors"
	"strings"

	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
)

type Discount struct {
	Amount   decimal.Decimal
	CouponID *int64
}

// CouponLookup is satisfied by both store.Reader and store.Tx.
type CouponLookup interface {
	CouponByCode(ctx context.Context, code string) (*models.Coupon, error)
}

// DiscountPolicy decides the discount for a subtotal. Eligibility rules
// belong to the policy; the engine only applies the result.
type DiscountPolicy interface {
	Discount(ctx context.Context, coupons CouponLookup, code string, subTotal decimal.Decimal) (Discount, error)
}

// CouponPolicy applies a coupon's stored percent or fixed value, never
// exceeding the subtotal.
type CouponPolicy struct{}

func (CouponPolicy) Discount(ctx context.Context, coupons CouponLookup, code string, subTotal decimal.Decimal) (Discount, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Discount{Amount: decimal.Zero}, nil
	}

	coupon, err := coupons.CouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Discount{}, apperrors.Validation("unknown coupon code").With("coupon_code", code)
		}
		return Discount{}, apperrors.Storage("get coupon", err)
	}
	if !coupon.Active {
		return Discount{}, apperrors.Validation("coupon is not active").With("coupon_code", code)
	}

	var amount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountTypePercent:
		amount = subTotal.Mul(coupon.DiscountValue).Div(hundred).Round(2)
	case models.DiscountTypeFixed:
		amount = coupon.DiscountValue
	default:
		return Discount{}, apperrors.Validation("unsupported discount type").With("coupon_code", code)
	}
	if amount.GreaterThan(subTotal) {
		amount = subTotal
	}
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	id := coupon.ID
	return Discount{Amount: amount, CouponID: &id}, nil
}
