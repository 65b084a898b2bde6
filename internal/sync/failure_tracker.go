package sync

import (
	"log/slog"
	stdsync "sync"
	"time"
)

// Repeated-failure reporting constants.
const (
	failureThreshold = 3                // warn once a target fails this many times in a row
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

// failureRecord tracks consecutive failures for a single target.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker counts consecutive delivery failures per target across
// rounds so that a node that keeps failing is called out once in the log
// rather than on every round. Thread-safe. Success clears the record.
type failureTracker struct {
	mu      stdsync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// consecutive returns the number of recent consecutive failures of target.
func (ft *failureTracker) consecutive(target string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[target]
	if !ok {
		return 0
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		delete(ft.records, target)
		return 0
	}

	return rec.count
}

// recordFailure increments the failure counter for a target.
func (ft *failureTracker) recordFailure(target, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[target]
	if !ok {
		rec = &failureRecord{}
		ft.records[target] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == failureThreshold {
		ft.logger.Warn("node failing repeatedly",
			slog.String("node", target),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
		)
	}
}

// recordSuccess clears the failure record for a target.
func (ft *failureTracker) recordSuccess(target string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if rec, ok := ft.records[target]; ok && rec.count >= failureThreshold {
		ft.logger.Info("node recovered",
			slog.String("node", target),
			slog.Int("previous_failures", rec.count),
			slog.String("last_error", rec.lastErr),
		)
	}

	delete(ft.records, target)
}
