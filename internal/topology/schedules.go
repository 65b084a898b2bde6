package topology

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/gatemesh/pathsync/internal/schedule"
)

// AddSchedule validates s, assigns it an id when it has none, stamps its
// timestamps, computes its next run and attaches it to the path. The stored
// copy is returned.
func (p *Path) AddSchedule(e *schedule.Engine, s schedule.Schedule, now time.Time) (schedule.Schedule, error) {
	s.Name = NormalizeName(s.Name)

	if err := e.Validate(s); err != nil {
		return schedule.Schedule{}, fmt.Errorf("path %q: add schedule: %w", p.ID, err)
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	if _, ok := p.Schedule(s.ID); ok {
		return schedule.Schedule{}, topoErr("add schedule", "schedule %q already on path", s.ID)
	}

	s.CreatedAt = now
	s.UpdatedAt = now
	s = e.Refresh(s, now)

	p.Schedules = append(p.Schedules, s)

	return s.Clone(), nil
}

// UpdateSchedule replaces the definition of an attached schedule. Run
// bookkeeping (LastRun, RunCount) and CreatedAt carry over from the stored
// copy; NextRun is recomputed.
func (p *Path) UpdateSchedule(e *schedule.Engine, s schedule.Schedule, now time.Time) (schedule.Schedule, error) {
	i := slices.IndexFunc(p.Schedules, func(x schedule.Schedule) bool { return x.ID == s.ID })
	if i < 0 {
		return schedule.Schedule{}, fmt.Errorf("path %q: %w: %q", p.ID, ErrScheduleNotFound, s.ID)
	}

	s.Name = NormalizeName(s.Name)

	if err := e.Validate(s); err != nil {
		return schedule.Schedule{}, fmt.Errorf("path %q: update schedule: %w", p.ID, err)
	}

	old := p.Schedules[i]
	s.CreatedAt = old.CreatedAt
	s.LastRun = old.LastRun
	s.RunCount = old.RunCount
	s.UpdatedAt = now
	s = e.Refresh(s, now)

	p.Schedules[i] = s

	return s.Clone(), nil
}

// RemoveSchedule detaches a schedule from the path.
func (p *Path) RemoveSchedule(id string) error {
	i := slices.IndexFunc(p.Schedules, func(x schedule.Schedule) bool { return x.ID == id })
	if i < 0 {
		return fmt.Errorf("path %q: %w: %q", p.ID, ErrScheduleNotFound, id)
	}

	p.Schedules = slices.Delete(p.Schedules, i, i+1)

	return nil
}

// Schedule returns the attached schedule with the given id.
func (p *Path) Schedule(id string) (schedule.Schedule, bool) {
	for _, s := range p.Schedules {
		if s.ID == id {
			return s.Clone(), true
		}
	}

	return schedule.Schedule{}, false
}

// ReplaceSchedule stores s over the attached schedule with the same id
// without touching any field. It is used to persist run bookkeeping.
func (p *Path) ReplaceSchedule(s schedule.Schedule) error {
	i := slices.IndexFunc(p.Schedules, func(x schedule.Schedule) bool { return x.ID == s.ID })
	if i < 0 {
		return fmt.Errorf("path %q: %w: %q", p.ID, ErrScheduleNotFound, s.ID)
	}

	p.Schedules[i] = s.Clone()

	return nil
}

// RefreshNodeStatus copies registry health onto the path's nodes. lookup
// returns the current status of a node, or false when the registry does not
// know it, in which case the node is reported offline. It returns the
// number of nodes whose status changed.
func (p *Path) RefreshNodeStatus(lookup func(nodeID string) (NodeStatus, bool)) int {
	changed := 0

	for i := range p.Nodes {
		st, ok := lookup(p.Nodes[i].NodeID)
		if !ok || !st.Valid() {
			st = NodeOffline
		}

		if p.Nodes[i].Status != st {
			p.Nodes[i].Status = st
			changed++
		}
	}

	return changed
}
