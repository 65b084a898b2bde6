package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gatemesh/pathsync/internal/topology"
)

// ErrExists is returned by Updater.Create when the id is taken.
var ErrExists = errors.New("store: path already exists")

// Updater serializes read-modify-write cycles on paths so that the API and
// the schedule runner never lose each other's changes. All writers in a
// process must share one Updater.
type Updater struct {
	s  Store
	mu sync.Mutex
}

// NewUpdater wraps s.
func NewUpdater(s Store) *Updater {
	return &Updater{s: s}
}

// Store returns the wrapped store for reads.
func (u *Updater) Store() Store { return u.s }

// Create saves a new path, failing with ErrExists if the id is taken.
func (u *Updater) Create(ctx context.Context, p *topology.Path) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.s.GetPath(ctx, p.ID)
	if err == nil {
		return fmt.Errorf("%w: %q", ErrExists, p.ID)
	}

	if !errors.Is(err, ErrNotFound) {
		return err
	}

	return u.s.PutPath(ctx, p)
}

// Update loads the path, applies fn and saves the result. When fn returns
// an error nothing is saved and the error is returned unchanged. The saved
// path is returned.
func (u *Updater) Update(ctx context.Context, id string, fn func(p *topology.Path) error) (*topology.Path, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	p, err := u.s.GetPath(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	if err := u.s.PutPath(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

// Replace saves p whether or not a path with its id exists.
func (u *Updater) Replace(ctx context.Context, p *topology.Path) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.s.PutPath(ctx, p)
}

// Delete removes the path.
func (u *Updater) Delete(ctx context.Context, id string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.s.DeletePath(ctx, id)
}
