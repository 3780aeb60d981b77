package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/notify"
	"github.com/safar/settlement-core/internal/orders"
	"github.com/safar/settlement-core/internal/store"
	"github.com/safar/settlement-core/migrations"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "connect to database")
	t.Cleanup(func() { db.Close() })

	_, err = migrations.Run(ctx, db, migrations.Up)
	require.NoError(t, err, "run migrations")
	return db
}

type fixture struct {
	variant *models.Variant
	users   []*models.User
	addrs   []*models.Address
}

// seed creates one variant with the given stock and n shoppers, each with
// qty of it selected.
func seed(t *testing.T, st *store.Postgres, stock, n, qty int) fixture {
	t.Helper()
	ctx := context.Background()
	var f fixture
	err := st.InTx(ctx, func(tx store.Tx) error {
		f.variant = &models.Variant{ProductID: 1, SKU: "WHEY-CHOC-1KG", Price: decimal.NewFromInt(100), QuantityOnHand: stock}
		if err := tx.InsertVariant(ctx, f.variant); err != nil {
			return err
		}
		for i := range n {
			user := &models.User{Email: fmt.Sprintf("shopper%d@example.com", i), Name: "Shopper"}
			if err := tx.InsertUser(ctx, user); err != nil {
				return err
			}
			addr := &models.Address{UserID: user.ID, Line1: "1 Main St", City: "Pune", PostalCode: "411001", Country: "IN"}
			if err := tx.InsertAddress(ctx, addr); err != nil {
				return err
			}
			sel := &models.Selection{UserID: user.ID, VariantID: f.variant.ID, Quantity: qty}
			if err := tx.UpsertSelection(ctx, sel); err != nil {
				return err
			}
			f.users = append(f.users, user)
			f.addrs = append(f.addrs, addr)
		}
		return nil
	})
	require.NoError(t, err)
	return f
}

func newEngine(st store.Store) *orders.Engine {
	pricing := orders.Pricing{TaxPercent: decimal.NewFromInt(5), ShippingCost: decimal.NewFromInt(50), Currency: "INR"}
	return orders.NewEngine(st, pricing, orders.CouponPolicy{}, notify.LogSender{})
}

func placeRequest(f fixture, i int, paymentID string) orders.PlaceOrderRequest {
	return orders.PlaceOrderRequest{
		UserID:    f.users[i].ID,
		AddressID: f.addrs[i].ID,
		Payment: orders.VerifiedPayment{
			GatewayOrderID:   "order_" + paymentID,
			GatewayPaymentID: paymentID,
			Signature:        "sig",
		},
	}
}

func TestConcurrentCheckoutNeverOversells(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 5, 2, 3)
	engine := newEngine(st)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.PlaceOrder(ctx, placeRequest(f, i, fmt.Sprintf("pay_%d", i)))
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperrors.KindOf(err) == apperrors.KindInsufficientStock:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	variant, err := st.GetVariant(ctx, f.variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, variant.QuantityOnHand)

	entries, err := st.ListInventoryLog(ctx, f.variant.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.InventoryReasonRestock, entries[0].Reason)
	assert.Equal(t, 5, entries[0].NewQuantity)
	assert.Equal(t, -3, entries[1].QuantityChange)
	assert.Equal(t, 5, entries[1].PreviousQuantity)
	assert.Equal(t, 2, entries[1].NewQuantity)
}

func TestDuplicatePaymentCreatesOneOrder(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 10, 1, 1)
	engine := newEngine(st)
	ctx := context.Background()

	order, err := engine.PlaceOrder(ctx, placeRequest(f, 0, "pay_dup"))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	_, err = engine.PlaceOrder(ctx, placeRequest(f, 0, "pay_dup"))
	require.ErrorIs(t, err, apperrors.ErrDuplicatePayment)

	var payments int
	require.NoError(t, db.GetContext(ctx, &payments, `SELECT COUNT(*) FROM payments WHERE gateway_payment_id = $1`, "pay_dup"))
	assert.Equal(t, 1, payments)

	err = st.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertPayment(ctx, &models.PaymentRecord{
			OrderID:          order.ID,
			GatewayOrderID:   "order_pay_dup",
			GatewayPaymentID: "pay_dup",
			Signature:        "sig",
			Method:           models.PaymentMethodUnknown,
			Amount:           order.Total,
			Status:           models.PaymentStatusCaptured,
		})
	})
	require.ErrorIs(t, err, database.ErrDuplicatePayment)
}

func TestConcurrentCallbacksForOnePaymentCreateOneOrder(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 10, 1, 2)
	engine := newEngine(st)
	ctx := context.Background()

	const callbacks = 3
	var wg sync.WaitGroup
	errs := make([]error, callbacks)
	for i := range callbacks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.PlaceOrder(ctx, placeRequest(f, 0, "pay_race"))
		}(i)
	}
	wg.Wait()

	var placed, duplicates int
	for _, err := range errs {
		switch apperrors.KindOf(err) {
		case "":
			placed++
		case apperrors.KindDuplicatePayment:
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, placed)
	assert.Equal(t, callbacks-1, duplicates)

	var orderCount int
	require.NoError(t, db.GetContext(ctx, &orderCount, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, f.users[0].ID))
	assert.Equal(t, 1, orderCount)

	variant, err := st.GetVariant(ctx, f.variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, variant.QuantityOnHand)
}

func TestFailedCheckoutWritesNothing(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 2, 1, 3)
	engine := newEngine(st)
	ctx := context.Background()

	_, err := engine.PlaceOrder(ctx, placeRequest(f, 0, "pay_short"))
	require.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, count)
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payments`))
	assert.Zero(t, count)

	selections, err := st.ListSelections(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Len(t, selections, 1)
}

func TestPartnerEarningIsUniquePerOrder(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 10, 1, 1)
	ctx := context.Background()

	order, err := newEngine(st).PlaceOrder(ctx, placeRequest(f, 0, "pay_earn"))
	require.NoError(t, err)

	var coupon models.Coupon
	var partner models.Partner
	err = st.InTx(ctx, func(tx store.Tx) error {
		coupon = models.Coupon{Code: "FIT10", DiscountType: models.DiscountTypePercent, DiscountValue: decimal.NewFromInt(10), Active: true}
		if err := tx.InsertCoupon(ctx, &coupon); err != nil {
			return err
		}
		partner = models.Partner{UserID: f.users[0].ID, Name: "Coach"}
		return tx.InsertPartner(ctx, &partner)
	})
	require.NoError(t, err)

	earning := func() *models.PartnerEarning {
		return &models.PartnerEarning{
			PartnerID:  partner.ID,
			OrderID:    order.ID,
			CouponID:   coupon.ID,
			Amount:     decimal.RequireFromString("4.50"),
			Percentage: decimal.NewFromInt(5),
		}
	}

	for i, want := range []bool{true, false} {
		err = st.InTx(ctx, func(tx store.Tx) error {
			created, err := tx.InsertPartnerEarning(ctx, earning())
			if err != nil {
				return err
			}
			assert.Equal(t, want, created, "attempt %d", i)
			return nil
		})
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, db.GetContext(ctx, &count, `SELECT COUNT(*) FROM partner_earnings WHERE order_id = $1`, order.ID))
	assert.Equal(t, 1, count)
}

func TestAssignCouponPartnerRejectsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 1, 1, 1)
	ctx := context.Background()

	var coupon models.Coupon
	var partner models.Partner
	err := st.InTx(ctx, func(tx store.Tx) error {
		coupon = models.Coupon{Code: "FIT5", DiscountType: models.DiscountTypeFixed, DiscountValue: decimal.NewFromInt(5), Active: true}
		if err := tx.InsertCoupon(ctx, &coupon); err != nil {
			return err
		}
		partner = models.Partner{UserID: f.users[0].ID, Name: "Coach"}
		return tx.InsertPartner(ctx, &partner)
	})
	require.NoError(t, err)

	assign := func(partnerID int64) error {
		return st.InTx(ctx, func(tx store.Tx) error {
			return tx.AssignCouponPartner(ctx, &models.CouponPartnerAssignment{
				CouponID:          coupon.ID,
				PartnerID:         partnerID,
				CommissionPercent: decimal.NewFromInt(5),
			})
		})
	}

	require.NoError(t, assign(partner.ID))
	require.ErrorIs(t, assign(partner.ID), database.ErrDuplicateAssignment)
	require.ErrorIs(t, assign(partner.ID+100), database.ErrNotFound)
}

func TestListOrdersCursorPages(t *testing.T) {
	db := setupTestDB(t)
	st := store.NewPostgres(db)
	f := seed(t, st, 10, 1, 1)
	engine := newEngine(st)
	ctx := context.Background()

	for i := range 3 {
		err := st.InTx(ctx, func(tx store.Tx) error {
			return tx.UpsertSelection(ctx, &models.Selection{UserID: f.users[0].ID, VariantID: f.variant.ID, Quantity: 1})
		})
		require.NoError(t, err)
		_, err = engine.PlaceOrder(ctx, placeRequest(f, 0, fmt.Sprintf("pay_page_%d", i)))
		require.NoError(t, err)
	}

	first, err := st.ListOrdersCursor(ctx, f.users[0].ID, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasMore)

	second, err := st.ListOrdersCursor(ctx, f.users[0].ID, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.HasMore)
	assert.Greater(t, first.Items[1].ID, second.Items[0].ID)
}
