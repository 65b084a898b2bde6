package runner

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gatemesh/pathsync/internal/config"
	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/store"
	"github.com/gatemesh/pathsync/internal/topology"
)

const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
)

// Watcher is the subset of *fsnotify.Watcher the runner uses.
type Watcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsWatcher struct {
	w *fsnotify.Watcher
}

func newFsWatcher() (Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsWatcher{w: w}, nil
}

func (f *fsWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsWatcher) Close() error                  { return f.w.Close() }
func (f *fsWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsWatcher) Errors() <-chan error          { return f.w.Errors }

// watchConfig watches the directory holding the config file, so that
// editors which save by rename are seen too, and reloads on any change to
// the file itself.
func (r *Runner) watchConfig(ctx context.Context, cfgPath string) error {
	w, err := r.newWatcher()
	if err != nil {
		return fmt.Errorf("runner: creating config watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(cfgPath)
	if err := w.Add(dir); err != nil {
		r.logger.Warn("config reload disabled",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)

		<-ctx.Done()

		return nil
	}

	base := filepath.Base(cfgPath)
	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}

			if filepath.Base(ev.Name) != base || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}

			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				r.logger.Debug("config file moved away, keeping current nodes", slog.String("path", cfgPath))
				continue
			}

			r.Reload(ctx)
			errBackoff = watchErrInitBackoff

		case werr, ok := <-w.Errors():
			if !ok {
				return nil
			}

			r.logger.Warn("config watcher error",
				slog.String("error", werr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)
		}
	}
}

// Reload re-reads the config file and swaps in its [node.*] sections. The
// rest of the running configuration keeps its resolved values, since store
// and logging settings only take effect at startup. An invalid file is
// logged and ignored. Node health is then copied onto every path.
func (r *Runner) Reload(ctx context.Context) {
	h := r.cfg.Holder
	if h == nil {
		return
	}

	loaded, err := config.Load(h.Path())
	if err != nil {
		r.logger.Warn("config reload failed, keeping current nodes",
			slog.String("path", h.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	next := *h.Config()
	next.Nodes = loaded.Nodes
	h.Update(&next)

	nodes := next.RegistryNodes()
	r.cfg.Registry.Replace(nodes)

	r.logger.Info("node registry reloaded", slog.Int("nodes", len(nodes)))

	r.refreshStatuses(ctx)
}

func (r *Runner) refreshStatuses(ctx context.Context) {
	paths, err := r.cfg.Paths.Store().ListPaths(ctx, store.Filter{})
	if err != nil {
		r.logger.Warn("listing paths for status refresh", slog.String("error", err.Error()))
		return
	}

	lookup := registry.StatusLookup(r.cfg.Registry)

	for _, p := range paths {
		changed := 0

		_, err := r.cfg.Paths.Update(ctx, p.ID, func(p *topology.Path) error {
			changed = p.RefreshNodeStatus(lookup)

			return nil
		})
		if err != nil {
			r.logger.Warn("refreshing node status",
				slog.String("path", p.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		if changed > 0 {
			r.logger.Debug("node status refreshed", slog.String("path", p.ID), slog.Int("changed", changed))
		}
	}
}
