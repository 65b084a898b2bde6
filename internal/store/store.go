// Package store persists irrigation paths, including their nodes,
// connections and schedules, behind a get/put-by-id contract. Two backends
// exist: SQLite for the daemon and CLI, memory for tests and dry runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/gatemesh/pathsync/internal/topology"
)

// ErrNotFound is returned when no path has the requested id.
var ErrNotFound = errors.New("store: path not found")

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Filter narrows ListPaths. Zero fields match everything.
type Filter struct {
	FarmID     string
	ZoneID     string
	ActiveOnly bool
	NodeID     string // paths containing this node
}

func (f Filter) match(p *topology.Path) bool {
	if f.FarmID != "" && p.FarmID != f.FarmID {
		return false
	}

	if f.ZoneID != "" && p.ZoneID != f.ZoneID {
		return false
	}

	if f.ActiveOnly && p.Status != topology.StatusActive {
		return false
	}

	if f.NodeID != "" {
		if _, ok := p.Node(f.NodeID); !ok {
			return false
		}
	}

	return true
}

// Store is the persistence contract. Paths are stored and returned by
// value: callers own the *Path they pass in and get back. PutPath replaces
// the whole aggregate; deleting a path deletes its schedules.
type Store interface {
	GetPath(ctx context.Context, id string) (*topology.Path, error)
	PutPath(ctx context.Context, p *topology.Path) error
	DeletePath(ctx context.Context, id string) error
	ListPaths(ctx context.Context, f Filter) ([]*topology.Path, error)
	Close() error
}

// Open returns the store for backend. dbPath is used by the SQLite backend
// only.
func Open(ctx context.Context, backend, dbPath string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, dbPath, logger)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", backend)
	}
}

func checkPut(p *topology.Path) error {
	if p == nil {
		return errors.New("store: nil path")
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("store: refusing to save path %q: %w", p.ID, err)
	}

	return nil
}

func sortPaths(paths []*topology.Path) {
	slices.SortFunc(paths, func(a, b *topology.Path) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}
