package commission

import (
	"context"
	"testing"
	"time"

	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
	"github.com/safar/settlement-core/internal/store/memstore"
	"github.com/safar/settlement-core/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	for in, want := range map[string]Period{
		"":        PeriodAll,
		"all":     PeriodAll,
		"Week":    PeriodWeek,
		" month ": PeriodMonth,
		"quarter": PeriodQuarter,
		"year":    PeriodYear,
	} {
		got, err := ParsePeriod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePeriod("fortnight")
	require.Error(t, err)
}

func TestPeriodSince(t *testing.T) {
	now := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)
	assert.True(t, PeriodAll.Since(now).IsZero())
	assert.Equal(t, time.Date(2026, 5, 24, 12, 0, 0, 0, time.UTC), PeriodWeek.Since(now))
	assert.Equal(t, time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC), PeriodYear.Since(now))
	assert.True(t, PeriodQuarter.Since(now).Before(PeriodMonth.Since(now)))
}

func TestSummarizeBucketsByMonth(t *testing.T) {
	row := func(orderID int64, amount, pct string, at time.Time) models.EarningRow {
		return models.EarningRow{
			PartnerEarning: models.PartnerEarning{OrderID: orderID, Amount: dec(amount), Percentage: dec(pct)},
			OrderCreatedAt: at,
		}
	}
	rows := []models.EarningRow{
		row(3, "10.00", "5", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		row(1, "4.50", "5", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)),
		row(2, "2.25", "2.5", time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)),
	}

	s := Summarize(rows)
	assert.True(t, s.Total.Equal(dec("16.75")))
	assert.Equal(t, 3, s.OrderCount)
	assert.True(t, s.AveragePercentage.Equal(dec("4.17")), "avg %s", s.AveragePercentage)
	require.Len(t, s.Monthly, 2)
	assert.Equal(t, "2026-01", s.Monthly[0].Month)
	assert.True(t, s.Monthly[0].Amount.Equal(dec("6.75")))
	assert.Equal(t, 2, s.Monthly[0].Orders)
	assert.Equal(t, "2026-03", s.Monthly[1].Month)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.Total.IsZero())
	assert.Zero(t, s.OrderCount)
	assert.NotNil(t, s.Monthly)
}

func TestPartnerEarningsOnlyDelivered(t *testing.T) {
	st := memstore.New()
	e := NewEngine(st)
	ctx := context.Background()
	coupon := storetest.Coupon(t, st, "FIT10", models.DiscountTypePercent, "10")
	partner := storetest.Partner(t, st)
	storetest.Assign(t, st, coupon.ID, partner.ID, "5")

	kept := seedOrder(t, st, models.OrderStatusDelivered, &coupon.ID, "100", "10")
	refunded := seedOrder(t, st, models.OrderStatusDelivered, &coupon.ID, "300", "30")
	attribute(t, st, e, kept)
	attribute(t, st, e, refunded)

	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.UpdateOrderStatus(ctx, refunded.ID, models.OrderStatusRefunded, nil)
	}))

	view, err := e.PartnerEarnings(ctx, partner.ID, PeriodAll, time.Now())
	require.NoError(t, err)
	require.Len(t, view.Earnings, 1)
	assert.Equal(t, kept.ID, view.Earnings[0].OrderID)
	assert.True(t, view.Summary.Total.Equal(dec("4.50")))
	assert.Equal(t, 1, view.Summary.OrderCount)
}

func TestPartnerEarningsPeriodWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	clock := now.AddDate(0, 0, -40)
	st := memstore.NewWithClock(func() time.Time { return clock })
	e := NewEngine(st)
	ctx := context.Background()

	coupon := storetest.Coupon(t, st, "FIT10", models.DiscountTypePercent, "10")
	partner := storetest.Partner(t, st)
	storetest.Assign(t, st, coupon.ID, partner.ID, "5")

	old := seedOrder(t, st, models.OrderStatusDelivered, &coupon.ID, "100", "10")
	clock = now.AddDate(0, 0, -2)
	recent := seedOrder(t, st, models.OrderStatusDelivered, &coupon.ID, "200", "20")
	attribute(t, st, e, old)
	attribute(t, st, e, recent)

	tests := []struct {
		period Period
		orders int
	}{
		{PeriodWeek, 1},
		{PeriodMonth, 1},
		{PeriodQuarter, 2},
		{PeriodAll, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			view, err := e.PartnerEarnings(ctx, partner.ID, tt.period, now)
			require.NoError(t, err)
			assert.Len(t, view.Earnings, tt.orders)
			assert.Equal(t, tt.period, view.Period)
		})
	}
}
