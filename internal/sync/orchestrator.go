// Package sync pushes schedule sets to the irrigation nodes of a path. A
// round sends the same message to every target exactly once, records a
// per-target Attempt, and never aborts because one target failed; failed
// targets can be retried selectively afterwards.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/transport"
)

const defaultSendTimeout = 10 * time.Second

// OrchestratorConfig holds the inputs for creating an Orchestrator. The CLI
// layer populates it from the resolved [sync] config section.
type OrchestratorConfig struct {
	Engine *schedule.Engine // encodes schedules; nil means a UTC engine

	// SendTimeout bounds each individual send. Zero means 10s.
	SendTimeout time.Duration

	// Workers > 1 sends to that many targets concurrently. Otherwise
	// targets are sent to one at a time, in list order.
	Workers int

	// MaxAttempts caps the sends per target across a round and its
	// retries. Zero means unlimited.
	MaxAttempts int

	// Backoff before each re-send in RetryFailed.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// MinSendInterval spaces consecutive sends across all workers.
	MinSendInterval time.Duration

	// OnProgress, when set, is called when an attempt moves to syncing and
	// again when it completes. Calls are serialized.
	OnProgress func(pathID string, a Attempt)

	Logger *slog.Logger
}

// Orchestrator drives sync rounds. It allows one round per path at a time;
// rounds for different paths may run concurrently.
type Orchestrator struct {
	cfg      OrchestratorConfig
	engine   *schedule.Engine
	pacer    *pacer
	failures *failureTracker
	logger   *slog.Logger

	nowFunc   func() time.Time                                // injectable for testing
	sleepFunc func(ctx context.Context, d time.Duration) error // injectable for testing

	mu       stdsync.Mutex
	inFlight map[string]struct{}

	progressMu stdsync.Mutex
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}

	engine := cfg.Engine
	if engine == nil {
		engine = schedule.NewEngine(nil)
	}

	return &Orchestrator{
		cfg:       cfg,
		engine:    engine,
		pacer:     newPacer(cfg.MinSendInterval, cfg.Logger),
		failures:  newFailureTracker(cfg.Logger),
		logger:    cfg.Logger,
		nowFunc:   time.Now,
		sleepFunc: timeSleep,
		inFlight:  make(map[string]struct{}),
	}
}

// SyncOne delivers the schedule set to a single target and returns its
// attempt. An invalid schedule set fails the attempt without sending.
// SyncOne is not tied to a path and takes no single-flight slot; use
// SyncAll with one target to sync a path's node.
func (o *Orchestrator) SyncOne(ctx context.Context, schedules []schedule.Schedule, targetID string, t transport.Transport) Attempt {
	a := Attempt{TargetID: targetID, State: StatePending}

	msg, err := o.engine.Encode(schedules)
	if err != nil {
		now := o.nowFunc()
		a.State = StateError
		a.Err = err
		a.Message = err.Error()
		a.StartedAt = now
		a.FinishedAt = now

		o.progress("", a)

		return a
	}

	return o.deliver(ctx, "", msg, len(schedules), a, t)
}

// SyncAll runs a round: every distinct target gets exactly one attempt.
// Duplicate target ids are collapsed onto their first occurrence. When ctx
// is canceled between sends the remaining targets stay pending; a send that
// has started always runs to completion or its timeout.
//
// The returned error is reserved for round-level failures (ErrRoundInFlight,
// an invalid schedule set). Delivery failures are recorded on the attempts.
func (o *Orchestrator) SyncAll(
	ctx context.Context, pathID string, schedules []schedule.Schedule, targetIDs []string, t transport.Transport,
) (*Result, error) {
	release, err := o.acquire(pathID)
	if err != nil {
		return nil, err
	}
	defer release()

	msg, err := o.engine.Encode(schedules)
	if err != nil {
		return nil, fmt.Errorf("sync: path %q: %w", pathID, err)
	}

	targets := dedupe(targetIDs)
	res := &Result{PathID: pathID, Attempts: make([]Attempt, len(targets)), StartedAt: o.nowFunc()}
	todo := make([]int, len(targets))

	for i, id := range targets {
		res.Attempts[i] = Attempt{TargetID: id, State: StatePending}
		todo[i] = i
	}

	o.logger.Info("sync round starting",
		slog.String("path", pathID),
		slog.Int("targets", len(targets)),
		slog.Int("schedules", len(schedules)),
	)

	o.run(ctx, pathID, msg, len(schedules), res, todo, t, false)
	o.finish(res)

	return res, nil
}

// RetryFailed re-sends to the targets of previous that ended in error.
// Successful and pending attempts are carried over unchanged, as are
// failed targets that have used up MaxAttempts. Each re-send waits a
// backoff that grows with the target's try count.
func (o *Orchestrator) RetryFailed(
	ctx context.Context, pathID string, previous *Result, schedules []schedule.Schedule, t transport.Transport,
) (*Result, error) {
	if previous == nil {
		return nil, errors.New("sync: retry needs a previous result")
	}

	release, err := o.acquire(pathID)
	if err != nil {
		return nil, err
	}
	defer release()

	msg, err := o.engine.Encode(schedules)
	if err != nil {
		return nil, fmt.Errorf("sync: path %q: %w", pathID, err)
	}

	res := &Result{PathID: pathID, Attempts: make([]Attempt, len(previous.Attempts)), StartedAt: o.nowFunc()}
	copy(res.Attempts, previous.Attempts)

	var todo []int

	for i := range res.Attempts {
		a := &res.Attempts[i]
		if a.State != StateError {
			continue
		}

		if o.cfg.MaxAttempts > 0 && a.Tries >= o.cfg.MaxAttempts {
			o.logger.Warn("not retrying node, attempts exhausted",
				slog.String("path", pathID),
				slog.String("node", a.TargetID),
				slog.Int("tries", a.Tries),
			)

			continue
		}

		o.logger.Debug("retrying node",
			slog.String("path", pathID),
			slog.String("node", a.TargetID),
			slog.Int("tries", a.Tries),
			slog.Int("consecutive_failures", o.failures.consecutive(a.TargetID)),
		)

		todo = append(todo, i)
	}

	o.logger.Info("sync retry starting",
		slog.String("path", pathID),
		slog.Int("retrying", len(todo)),
		slog.Int("targets", len(res.Attempts)),
	)

	o.run(ctx, pathID, msg, len(schedules), res, todo, t, true)
	o.finish(res)

	return res, nil
}

// run sends to res.Attempts[i] for each i in todo, sequentially or with
// bounded concurrency. Targets not reached before ctx ends keep the state
// they had.
func (o *Orchestrator) run(
	ctx context.Context, pathID string, msg *schedule.SyncMessage, count int,
	res *Result, todo []int, t transport.Transport, backoff bool,
) {
	step := func(i int) bool {
		if ctx.Err() != nil {
			return false
		}

		if backoff {
			d := retryDelay(res.Attempts[i].Tries, o.cfg.RetryBaseDelay, o.cfg.RetryMaxDelay)
			if err := o.sleepFunc(ctx, d); err != nil {
				return false
			}
		}

		if err := o.pacer.wait(ctx); err != nil {
			return false
		}

		res.Attempts[i] = o.deliver(ctx, pathID, msg, count, res.Attempts[i], t)

		return true
	}

	if o.cfg.Workers <= 1 {
		for _, i := range todo {
			if !step(i) {
				return
			}
		}

		return
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	for _, i := range todo {
		g.Go(func() error {
			step(i)
			return nil
		})
	}

	_ = g.Wait()
}

// deliver performs one send and returns prev advanced to its final state.
func (o *Orchestrator) deliver(
	ctx context.Context, pathID string, msg *schedule.SyncMessage, count int, prev Attempt, t transport.Transport,
) Attempt {
	a := prev
	a.State = StateSyncing
	a.StartedAt = o.nowFunc()
	a.FinishedAt = time.Time{}
	a.Tries++
	a.Err = nil
	a.Message = ""
	a.DeliveredCount = 0

	o.progress(pathID, a)

	runner := &targetRunner{targetID: a.TargetID, timeout: o.cfg.SendTimeout}
	ack, err := runner.send(ctx, t, msg)

	a.FinishedAt = o.nowFunc()

	if err != nil {
		a.State = StateError
		a.Err = &TransportError{Target: a.TargetID, Err: err}
		a.Message = err.Error()

		o.failures.recordFailure(a.TargetID, err.Error())
		o.logger.Warn("schedule sync failed",
			slog.String("path", pathID),
			slog.String("node", a.TargetID),
			slog.Int("tries", a.Tries),
			slog.String("error", err.Error()),
		)

		o.progress(pathID, a)

		return a
	}

	a.State = StateSuccess
	a.DeliveredCount = count

	if ack.DeliveredCount != nil {
		a.DeliveredCount = *ack.DeliveredCount
	}

	a.Message = ack.Message
	if a.Message == "" {
		a.Message = fmt.Sprintf("Synced %d schedules", a.DeliveredCount)
	}

	o.failures.recordSuccess(a.TargetID)
	o.logger.Debug("schedule sync delivered",
		slog.String("path", pathID),
		slog.String("node", a.TargetID),
		slog.Int("delivered", a.DeliveredCount),
		slog.Duration("elapsed", a.FinishedAt.Sub(a.StartedAt)),
	)

	o.progress(pathID, a)

	return a
}

func (o *Orchestrator) progress(pathID string, a Attempt) {
	if o.cfg.OnProgress == nil {
		return
	}

	o.progressMu.Lock()
	defer o.progressMu.Unlock()

	o.cfg.OnProgress(pathID, a)
}

func (o *Orchestrator) finish(res *Result) {
	res.FinishedAt = o.nowFunc()

	level := slog.LevelInfo
	if res.AnyFailed() {
		level = slog.LevelWarn
	}

	o.logger.Log(context.Background(), level, "sync round complete",
		slog.String("path", res.PathID),
		slog.String("outcome", string(res.Outcome())),
		slog.String("summary", res.Summary()),
		slog.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
}

// acquire claims the single-flight slot for pathID.
func (o *Orchestrator) acquire(pathID string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inFlight[pathID]; busy {
		return nil, fmt.Errorf("%w: %q", ErrRoundInFlight, pathID)
	}

	o.inFlight[pathID] = struct{}{}

	return func() {
		o.mu.Lock()
		delete(o.inFlight, pathID)
		o.mu.Unlock()
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true
		out = append(out, id)
	}

	return out
}
