// Package runner drives paths on the wall clock. On every tick it stops
// flows whose scheduled run has elapsed and starts the flows whose
// schedules are due. Alongside the ticker it watches the config file and
// reloads the node registry when the [node.*] sections change.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

const defaultTickInterval = 30 * time.Second

// Config holds the collaborators of a Runner.
type Config struct {
	Paths    *store.Updater
	Engine   *schedule.Engine
	Flow     *topology.FlowController
	Registry *registry.Static

	// Holder supplies the config file to watch. Nil disables reloading.
	Holder *config.Holder

	// TickInterval between schedule checks. Zero means 30s.
	TickInterval time.Duration

	Logger *slog.Logger
}

// Runner fires due schedules and keeps the registry in step with the
// config file.
type Runner struct {
	cfg    Config
	logger *slog.Logger

	nowFunc    func() time.Time         // injectable for testing
	newWatcher func() (Watcher, error) // injectable for testing

	mu    sync.Mutex
	stops map[string]time.Time // path id -> end of the scheduled run
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	return &Runner{
		cfg:        cfg,
		logger:     cfg.Logger,
		nowFunc:    time.Now,
		newWatcher: newFsWatcher,
		stops:      make(map[string]time.Time),
	}
}

// Run ticks until ctx is canceled. A first tick runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.tickLoop(gctx)
	})

	if r.cfg.Holder != nil && r.cfg.Holder.Path() != "" {
		g.Go(func() error {
			return r.watchConfig(gctx, r.cfg.Holder.Path())
		})
	}

	return g.Wait()
}

func (r *Runner) tickLoop(ctx context.Context) error {
	r.logger.Info("runner started", slog.Duration("tick", r.cfg.TickInterval))

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			r.logger.Warn("runner tick failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("runner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one pass: elapsed runs are stopped first, then due
// schedules fire. Errors on individual paths are logged and joined.
func (r *Runner) Tick(ctx context.Context) error {
	now := r.nowFunc()

	paths, listErr := r.cfg.Paths.Store().ListPaths(ctx, store.Filter{})
	if listErr == nil {
		r.resumeRuns(paths)
	}

	errs := r.stopElapsed(ctx, now)

	if listErr != nil {
		return errors.Join(append(errs, fmt.Errorf("runner: listing paths: %w", listErr))...)
	}

	for _, p := range paths {
		if !r.anyDue(p, now) {
			continue
		}

		if err := r.fire(ctx, p.ID, now); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Runner) anyDue(p *topology.Path, now time.Time) bool {
	for _, s := range p.Schedules {
		if r.cfg.Engine.Due(s, now) {
			return true
		}
	}

	return false
}

// fire records a run for every due schedule of the path and starts its
// flow. The run is recorded even when the path cannot flow, so a broken
// topology does not re-fire on every tick.
func (r *Runner) fire(ctx context.Context, pathID string, now time.Time) error {
	var until time.Time

	_, err := r.cfg.Paths.Update(ctx, pathID, func(p *topology.Path) error {
		until = time.Time{}

		for _, s := range p.Schedules {
			if !r.cfg.Engine.Due(s, now) {
				continue
			}

			if end := now.Add(s.Duration()); end.After(until) {
				until = end
			}

			fired := r.cfg.Engine.RecordRun(s, now)
			if err := p.ReplaceSchedule(fired); err != nil {
				return err
			}

			r.logger.Info("schedule fired",
				slog.String("path", p.ID),
				slog.String("schedule", s.Name),
				slog.Int("duration_minutes", s.DurationMinutes),
				slog.Time("next_run", fired.NextRun),
			)
		}

		if p.IsFlowing {
			return nil
		}

		if err := r.cfg.Flow.Start(p); err != nil {
			if errors.Is(err, topology.ErrInsufficientTopology) {
				r.logger.Warn("scheduled run cannot flow",
					slog.String("path", p.ID),
					slog.String("error", err.Error()),
				)

				until = time.Time{}

				return nil
			}

			return err
		}

		p.LastActivated = now

		return nil
	})
	if err != nil {
		return fmt.Errorf("runner: path %q: %w", pathID, err)
	}

	if !until.IsZero() {
		r.extendStop(pathID, until)
	}

	return nil
}

func (r *Runner) extendStop(pathID string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.stops[pathID]; !ok || until.After(cur) {
		r.stops[pathID] = until
	}
}

// resumeRuns rebuilds the pending stop of every flowing path whose current
// activation was started by a schedule, so a run in progress when the
// process restarted still ends. Flows started by hand after the last fired
// run are left alone.
func (r *Runner) resumeRuns(paths []*topology.Path) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range paths {
		if !p.IsFlowing {
			continue
		}

		if _, ok := r.stops[p.ID]; ok {
			continue
		}

		until, ok := scheduledEnd(p)
		if !ok {
			continue
		}

		r.stops[p.ID] = until

		r.logger.Info("resuming scheduled run",
			slog.String("path", p.ID),
			slog.Time("until", until),
		)
	}
}

// scheduledEnd returns the latest LastRun + Duration over the path's
// schedules. ok is false when no schedule has run or the path was activated
// after the most recent run.
func scheduledEnd(p *topology.Path) (time.Time, bool) {
	var lastRun, until time.Time

	for _, s := range p.Schedules {
		if s.LastRun.IsZero() {
			continue
		}

		if s.LastRun.After(lastRun) {
			lastRun = s.LastRun
		}

		if end := s.LastRun.Add(s.Duration()); end.After(until) {
			until = end
		}
	}

	if lastRun.IsZero() || p.LastActivated.After(lastRun) {
		return time.Time{}, false
	}

	return until, true
}

// stopElapsed stops the flow of every path whose scheduled run has ended.
func (r *Runner) stopElapsed(ctx context.Context, now time.Time) []error {
	r.mu.Lock()
	var due []string

	for id, until := range r.stops {
		if !until.After(now) {
			due = append(due, id)
			delete(r.stops, id)
		}
	}
	r.mu.Unlock()

	var errs []error

	for _, id := range due {
		_, err := r.cfg.Paths.Update(ctx, id, func(p *topology.Path) error {
			r.cfg.Flow.Stop(p)

			return nil
		})

		switch {
		case errors.Is(err, store.ErrNotFound):
			r.logger.Debug("scheduled path gone before stop", slog.String("path", id))
		case err != nil:
			errs = append(errs, fmt.Errorf("runner: stopping path %q: %w", id, err))
		default:
			r.logger.Info("scheduled run finished", slog.String("path", id))
		}
	}

	return errs
}

// Pending returns the scheduled stop time of a path's current run.
func (r *Runner) Pending(pathID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.stops[pathID]

	return t, ok
}
