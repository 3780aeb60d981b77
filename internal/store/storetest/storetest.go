// Package storetest seeds any store.Store with shoppers, stock and coupon
// partners for tests.
package storetest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var seq atomic.Int64

func inTx(t testing.TB, st store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error { return fn(ctx, tx) }))
}

// Shopper creates a user with one address.
func Shopper(t testing.TB, st store.Store) (models.User, models.Address) {
	t.Helper()
	n := seq.Add(1)
	user := models.User{Email: fmt.Sprintf("shopper%d@example.com", n), Name: fmt.Sprintf("Shopper %d", n)}
	address := models.Address{Line1: "12 Station Road", City: "Pune", PostalCode: "411001", Country: "IN"}
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertUser(ctx, &user); err != nil {
			return err
		}
		address.UserID = user.ID
		return tx.InsertAddress(ctx, &address)
	})
	return user, address
}

// Variant creates a variant priced at price with stock units on hand.
func Variant(t testing.TB, st store.Store, price string, stock int) models.Variant {
	t.Helper()
	return SaleVariant(t, st, price, "", stock)
}

// SaleVariant is Variant with a sale price; an empty salePrice means none.
func SaleVariant(t testing.TB, st store.Store, price, salePrice string, stock int) models.Variant {
	t.Helper()
	n := seq.Add(1)
	variant := models.Variant{
		ProductID:      n,
		SKU:            fmt.Sprintf("SKU-%04d", n),
		Flavor:         "chocolate",
		Size:           "1kg",
		Price:          decimal.RequireFromString(price),
		QuantityOnHand: stock,
	}
	if salePrice != "" {
		variant.SalePrice = decimal.NewNullDecimal(decimal.RequireFromString(salePrice))
	}
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertVariant(ctx, &variant)
	})
	return variant
}

// Select puts qty of the variant into the user's selection.
func Select(t testing.TB, st store.Store, userID, variantID int64, qty int) {
	t.Helper()
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.UpsertSelection(ctx, &models.Selection{UserID: userID, VariantID: variantID, Quantity: qty})
	})
}

func Coupon(t testing.TB, st store.Store, code, discountType, value string) models.Coupon {
	t.Helper()
	coupon := models.Coupon{
		Code:          code,
		DiscountType:  discountType,
		DiscountValue: decimal.RequireFromString(value),
		Active:        true,
	}
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCoupon(ctx, &coupon)
	})
	return coupon
}

// Partner creates a partner backed by a fresh user.
func Partner(t testing.TB, st store.Store) models.Partner {
	t.Helper()
	user, _ := Shopper(t, st)
	partner := models.Partner{UserID: user.ID, Name: user.Name}
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPartner(ctx, &partner)
	})
	return partner
}

// Assign attaches the partner to the coupon at percent commission.
func Assign(t testing.TB, st store.Store, couponID, partnerID int64, percent string) {
	t.Helper()
	inTx(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.AssignCouponPartner(ctx, &models.CouponPartnerAssignment{
			CouponID:          couponID,
			PartnerID:         partnerID,
			CommissionPercent: decimal.RequireFromString(percent),
		})
	})
}
