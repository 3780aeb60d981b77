package orders

import (
	"sort"

	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Pricing holds the flat checkout policy inputs.
type Pricing struct {
	TaxPercent   decimal.Decimal
	ShippingCost decimal.Decimal
	Currency     string
}

type QuoteLine struct {
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	Available int             `json:"-"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Quote struct {
	Lines        []QuoteLine     `json:"lines"`
	SubTotal     decimal.Decimal `json:"sub_total"`
	Tax          decimal.Decimal `json:"tax"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	CouponID     *int64          `json:"coupon_id,omitempty"`
	Currency     string          `json:"currency"`
}

// priceLines snapshots the effective price of every selected variant and
// rejects the whole selection if any line exceeds the stock on hand.
func priceLines(selections []models.Selection, variants map[int64]*models.Variant) ([]QuoteLine, decimal.Decimal, error) {
	sorted := make([]models.Selection, len(selections))
	copy(sorted, selections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VariantID < sorted[j].VariantID })

	lines := make([]QuoteLine, 0, len(sorted))
	subTotal := decimal.Zero
	for _, sel := range sorted {
		v, ok := variants[sel.VariantID]
		if !ok {
			return nil, decimal.Zero, apperrors.NotFound("variant").With("variant_id", sel.VariantID)
		}
		if sel.Quantity <= 0 {
			return nil, decimal.Zero, apperrors.Validation("selection quantity must be positive").
				With("variant_id", sel.VariantID)
		}
		price := v.EffectivePrice()
		line := QuoteLine{
			VariantID: sel.VariantID,
			Quantity:  sel.Quantity,
			Available: v.QuantityOnHand,
			Price:     price,
			Subtotal:  price.Mul(decimal.NewFromInt(int64(sel.Quantity))),
		}
		lines = append(lines, line)
		subTotal = subTotal.Add(line.Subtotal)
	}

	for _, line := range lines {
		if line.Available < line.Quantity {
			return nil, decimal.Zero, apperrors.InsufficientStock(line.VariantID, line.Quantity, line.Available)
		}
	}
	return lines, subTotal, nil
}

// Totals applies tax, shipping and the discount to a subtotal.
func (p Pricing) Totals(subTotal decimal.Decimal, discount Discount) *Quote {
	tax := subTotal.Mul(p.TaxPercent).Div(hundred).Round(2)
	return &Quote{
		SubTotal:     subTotal,
		Tax:          tax,
		ShippingCost: p.ShippingCost,
		Discount:     discount.Amount,
		Total:        subTotal.Add(tax).Add(p.ShippingCost).Sub(discount.Amount),
		CouponID:     discount.CouponID,
		Currency:     p.Currency,
	}
}
