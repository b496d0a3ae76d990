package ingest

import (
	"context"
	"log/slog"

	"bruteguard/internal/metrics"
	"bruteguard/internal/model"
)

// SendNonBlocking delivers o if out has room and drops it otherwise.
func SendNonBlocking(ctx context.Context, out chan<- model.PublishOutcome, o model.PublishOutcome, logger *slog.Logger) bool {
	select {
	case out <- o:
		return true
	case <-ctx.Done():
		return false
	default:
		metrics.PublishOutcomesDroppedTotal.Inc()
		if logger != nil {
			logger.Warn("outcome channel full, dropping outcome", "event_id", o.EventID, "failed", o.Failed())
		}
		return false
	}
}
