// Package commission credits referral partners for delivered orders and
// derives the partner-facing earnings views from that ledger.
package commission

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// EarningAmount is base × percent / 100 rounded half away from zero to
// two decimal places.
func EarningAmount(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(percent).Div(hundred).Round(2)
}

type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// Attribute inserts one earning per commission-bearing partner on the
// order's coupon and returns the rows it created. Orders that are not
// DELIVERED, carry no coupon, or have a non-positive commission base get
// nothing.
func (e *Engine) Attribute(ctx context.Context, tx store.Tx, order *models.Order) ([]models.PartnerEarning, error) {
	if order.Status != models.OrderStatusDelivered || order.CouponID == nil {
		return nil, nil
	}
	base := order.CommissionBase()
	if !base.IsPositive() {
		return nil, nil
	}

	assignments, err := tx.CouponPartners(ctx, *order.CouponID)
	if err != nil {
		return nil, apperrors.Storage("list coupon partners", err)
	}

	var created []models.PartnerEarning
	for _, a := range assignments {
		if !a.CommissionPercent.IsPositive() {
			continue
		}
		earning := &models.PartnerEarning{
			PartnerID:  a.PartnerID,
			OrderID:    order.ID,
			CouponID:   *order.CouponID,
			Amount:     EarningAmount(base, a.CommissionPercent),
			Percentage: a.CommissionPercent,
		}
		inserted, err := tx.InsertPartnerEarning(ctx, earning)
		if err != nil {
			return nil, apperrors.Storage("record partner earning", err)
		}
		if !inserted {
			continue
		}
		log.Info().
			Int64("orderId", order.ID).
			Int64("partnerId", a.PartnerID).
			Str("amount", earning.Amount.StringFixed(2)).
			Msg("partner earning recorded")
		created = append(created, *earning)
	}
	return created, nil
}

// AssignPartner attaches a partner to a coupon with its own commission
// percentage.
func (e *Engine) AssignPartner(ctx context.Context, couponID, partnerID int64, percent decimal.Decimal) (*models.CouponPartnerAssignment, error) {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return nil, apperrors.Validation("commission percent must be between 0 and 100").
			With("commission_percent", percent.String())
	}

	assignment := &models.CouponPartnerAssignment{
		CouponID:          couponID,
		PartnerID:         partnerID,
		CommissionPercent: percent.Round(2),
	}
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		err := tx.AssignCouponPartner(ctx, assignment)
		switch {
		case errors.Is(err, database.ErrDuplicateAssignment):
			return apperrors.Validation("partner already assigned to coupon").
				With("coupon_id", couponID).
				With("partner_id", partnerID)
		case errors.Is(err, database.ErrNotFound):
			return apperrors.NotFound("coupon or partner").
				With("coupon_id", couponID).
				With("partner_id", partnerID)
		case err != nil:
			return apperrors.Storage("assign coupon partner", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}
