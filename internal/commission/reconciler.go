package commission

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunReconciler runs Backfill every interval until ctx is done. A
// non-positive interval disables it.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		log.Info().Msg("commission reconciler disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("commission reconciler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("commission reconciler stopped")
			return
		case <-ticker.C:
			if _, err := e.Backfill(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("commission reconciliation failed")
			}
		}
	}
}
