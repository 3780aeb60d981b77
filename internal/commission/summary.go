package commission

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/models"
	"github.com/shopspring/decimal"
)

type Period string

const (
	PeriodAll     Period = "all"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAll, nil
	case PeriodAll, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	}
	return "", apperrors.Validation("unknown period").With("period", s)
}

// Since is the start of the trailing window ending at now. PeriodAll has
// no start.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, -1, 0)
	case PeriodQuarter:
		return now.AddDate(0, -3, 0)
	case PeriodYear:
		return now.AddDate(-1, 0, 0)
	}
	return time.Time{}
}

type MonthlyEarnings struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

type Summary struct {
	Total             decimal.Decimal   `json:"total"`
	OrderCount        int               `json:"order_count"`
	AveragePercentage decimal.Decimal   `json:"average_percentage"`
	Monthly           []MonthlyEarnings `json:"monthly"`
}

// Summarize derives the aggregate view from earning rows. Rows whose order
// is not DELIVERED never reach here; the store filters them.
func Summarize(rows []models.EarningRow) Summary {
	summary := Summary{
		Total:             decimal.Zero,
		AveragePercentage: decimal.Zero,
		Monthly:           []MonthlyEarnings{},
	}
	if len(rows) == 0 {
		return summary
	}

	orders := make(map[int64]struct{})
	percentSum := decimal.Zero
	months := make(map[string]*MonthlyEarnings)
	monthOrders := make(map[string]map[int64]struct{})

	for _, r := range rows {
		summary.Total = summary.Total.Add(r.Amount)
		percentSum = percentSum.Add(r.Percentage)
		orders[r.OrderID] = struct{}{}

		key := r.OrderCreatedAt.UTC().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthlyEarnings{Month: key, Amount: decimal.Zero}
			months[key] = m
			monthOrders[key] = make(map[int64]struct{})
		}
		m.Amount = m.Amount.Add(r.Amount)
		monthOrders[key][r.OrderID] = struct{}{}
	}

	summary.OrderCount = len(orders)
	summary.AveragePercentage = percentSum.Div(decimal.NewFromInt(int64(len(rows)))).Round(2)
	for key, m := range months {
		m.Orders = len(monthOrders[key])
		summary.Monthly = append(summary.Monthly, *m)
	}
	sort.Slice(summary.Monthly, func(i, j int) bool { return summary.Monthly[i].Month < summary.Monthly[j].Month })
	return summary
}

type PartnerEarnings struct {
	PartnerID int64               `json:"partner_id"`
	Period    Period              `json:"period"`
	Earnings  []models.EarningRow `json:"earnings"`
	Summary   Summary             `json:"summary"`
}

// PartnerEarnings returns the partner's delivered-order earnings for the
// trailing period together with their summary.
func (e *Engine) PartnerEarnings(ctx context.Context, partnerID int64, period Period, now time.Time) (*PartnerEarnings, error) {
	rows, err := e.store.ListPartnerEarnings(ctx, partnerID, period.Since(now))
	if err != nil {
		return nil, apperrors.Storage("list partner earnings", err)
	}
	if rows == nil {
		rows = []models.EarningRow{}
	}
	return &PartnerEarnings{
		PartnerID: partnerID,
		Period:    period,
		Earnings:  rows,
		Summary:   Summarize(rows),
	}, nil
}
