package postgres

import (
	"context"
	"time"

	"github.com/campusevents/registration-service/internal/pkg/logger"
)

// StartOutboxRetention starts a background goroutine that periodically deletes
// outbox rows already published, to prevent unbounded table growth. The sweep
// runs every hour and deletes sent rows older than seven days; dead rows are
// kept for inspection.
func (r *Repository) StartOutboxRetention(ctx context.Context) {
	go func() {
		log := logger.Logger.With().Str("component", "outbox_retention").Logger()
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		// Run once immediately on startup
		r.sweepSentOutbox(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				r.sweepSentOutbox(ctx)
			}
		}
	}()
}

func (r *Repository) sweepSentOutbox(ctx context.Context) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM outbox WHERE status = 'sent' AND occurred_at < NOW() - INTERVAL '7 days'`)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("outbox retention sweep failed")
		return
	}

	rowsAffected := result.RowsAffected()
	if rowsAffected > 0 {
		logger.Logger.Info().Int64("deleted", rowsAffected).Msg("sent outbox rows cleaned up")
	}
}
