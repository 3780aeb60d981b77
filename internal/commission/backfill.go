package commission

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
)

const backfillBatchSize = 200

type BackfillReport struct {
	Scanned         int `json:"scanned"`
	OrdersCredited  int `json:"orders_credited"`
	EarningsCreated int `json:"earnings_created"`
	Failed          int `json:"failed"`
}

// Backfill credits delivered, coupon-bearing orders that have no earnings
// yet. Each order is re-checked under its row lock, so running it
// repeatedly or alongside status updates never duplicates an earning.
func (e *Engine) Backfill(ctx context.Context) (*BackfillReport, error) {
	started := time.Now()
	report := &BackfillReport{}

	var afterID int64
	for {
		batch, err := e.store.ListDeliveredOrdersMissingEarnings(ctx, afterID, backfillBatchSize)
		if err != nil {
			return report, apperrors.Storage("list orders missing earnings", err)
		}

		for _, candidate := range batch {
			afterID = candidate.ID
			report.Scanned++

			created, err := e.backfillOrder(ctx, candidate.ID)
			if err != nil {
				if ctx.Err() != nil {
					return report, ctx.Err()
				}
				report.Failed++
				log.Error().Err(err).Int64("orderId", candidate.ID).Msg("commission backfill failed for order")
				continue
			}
			if created > 0 {
				report.OrdersCredited++
				report.EarningsCreated += created
			}
		}

		if len(batch) < backfillBatchSize {
			break
		}
	}

	log.Info().
		Int("scanned", report.Scanned).
		Int("ordersCredited", report.OrdersCredited).
		Int("earningsCreated", report.EarningsCreated).
		Int("failed", report.Failed).
		Dur("took", time.Since(started)).
		Msg("commission backfill finished")
	return report, nil
}

func (e *Engine) backfillOrder(ctx context.Context, orderID int64) (int, error) {
	created := 0
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		created = 0
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusDelivered {
			return nil
		}
		earnings, err := e.Attribute(ctx, tx, order)
		if err != nil {
			return err
		}
		created = len(earnings)
		return nil
	})
	return created, err
}
