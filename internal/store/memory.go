package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/gatemesh/pathsync/internal/topology"
)

// Memory is an in-process Store. Paths are deep-copied on the way in and
// out, so callers never share state with the store.
type Memory struct {
	mu    sync.RWMutex
	paths map[string]*topology.Path
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{paths: make(map[string]*topology.Path)}
}

// GetPath implements Store.
func (m *Memory) GetPath(_ context.Context, id string) (*topology.Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.paths[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	return p.Clone(), nil
}

// PutPath implements Store.
func (m *Memory) PutPath(_ context.Context, p *topology.Path) error {
	if err := checkPut(p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Schedule ids are unique across paths, as in the SQLite backend.
	for id, other := range m.paths {
		if id == p.ID {
			continue
		}

		for _, s := range p.Schedules {
			if _, clash := other.Schedule(s.ID); clash {
				return fmt.Errorf("store: schedule %q already belongs to path %q", s.ID, id)
			}
		}
	}

	m.paths[p.ID] = p.Clone()

	return nil
}

// DeletePath implements Store.
func (m *Memory) DeletePath(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.paths[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	delete(m.paths, id)

	return nil
}

// ListPaths implements Store.
func (m *Memory) ListPaths(_ context.Context, f Filter) ([]*topology.Path, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*topology.Path, 0, len(m.paths))

	for _, p := range m.paths {
		if f.match(p) {
			out = append(out, p.Clone())
		}
	}

	sortPaths(out)

	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
