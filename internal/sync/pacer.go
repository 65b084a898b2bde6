package sync

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces sends to constrained devices. One pacer is shared by every
// worker of an Orchestrator so the aggregate send rate stays within the
// configured interval. A nil pacer never waits.
type pacer struct {
	limiter *rate.Limiter
}

// newPacer returns a pacer allowing one send per interval, or nil for a
// non-positive interval.
func newPacer(interval time.Duration, logger *slog.Logger) *pacer {
	if interval <= 0 {
		return nil
	}

	logger.Debug("send pacing enabled", slog.Duration("min_send_interval", interval))

	return &pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// wait blocks until the next send may start.
func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}

	return p.limiter.Wait(ctx)
}
