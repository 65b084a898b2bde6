package api

import (
	"time"

	"github.com/gatemesh/pathsync/internal/registry"
	"github.com/gatemesh/pathsync/internal/schedule"
	isync "github.com/gatemesh/pathsync/internal/sync"
	"github.com/gatemesh/pathsync/internal/topology"
)

// PathRequest creates a path.
type PathRequest struct {
	ID             string  `json:"id,omitempty" doc:"Path id; generated when empty"`
	Name           string  `json:"name" minLength:"1"`
	Description    string  `json:"description,omitempty"`
	FarmID         string  `json:"farmId,omitempty"`
	ZoneID         string  `json:"zoneId,omitempty"`
	MaxFlowRate    float64 `json:"maxFlowRate,omitempty" minimum:"0"`
	TargetPressure float64 `json:"targetPressure,omitempty" minimum:"0"`
}

// PathPatch edits path metadata. Absent fields are unchanged.
type PathPatch struct {
	Name           *string  `json:"name,omitempty" minLength:"1"`
	Description    *string  `json:"description,omitempty"`
	FarmID         *string  `json:"farmId,omitempty"`
	ZoneID         *string  `json:"zoneId,omitempty"`
	MaxFlowRate    *float64 `json:"maxFlowRate,omitempty" minimum:"0"`
	TargetPressure *float64 `json:"targetPressure,omitempty" minimum:"0"`
}

// NodeRequest adds a node to a path. Role is inferred from the registry's
// capability tags when empty.
type NodeRequest struct {
	NodeID     string        `json:"nodeId" minLength:"1"`
	Role       topology.Role `json:"role,omitempty" enum:"source,pump,valve,sensor,junction,endpoint"`
	AfterOrder *int          `json:"afterOrder,omitempty" doc:"Insert after this order; -1 inserts at the head"`
}

// OrderRequest reorders the nodes of a path.
type OrderRequest struct {
	NodeIDs []string `json:"nodeIds"`
}

// ConnectionRequest adds an edge.
type ConnectionRequest struct {
	From   string                  `json:"from" minLength:"1"`
	To     string                  `json:"to" minLength:"1"`
	Kind   topology.ConnectionKind `json:"kind,omitempty" enum:"pipe,canal,underground"`
	Size   *float64                `json:"size,omitempty"`
	Length *float64                `json:"length,omitempty"`
}

// ScheduleRequest creates or replaces a schedule. Dates are YYYY-MM-DD.
type ScheduleRequest struct {
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name" minLength:"1"`
	Enabled         *bool           `json:"enabled,omitempty" doc:"Defaults to true"`
	StartTime       string          `json:"startTime" example:"06:30"`
	DurationMinutes int             `json:"durationMinutes"`
	Repeat          schedule.Repeat `json:"repeat"`
	DaysOfWeek      []int           `json:"daysOfWeek,omitempty"`
	StartDate       string          `json:"startDate" example:"2024-05-01"`
	EndDate         string          `json:"endDate,omitempty"`
}

// toSchedule converts the request. Civil dates that fail to parse are
// reported as schedule validation errors.
func (r *ScheduleRequest) toSchedule() (schedule.Schedule, error) {
	s := schedule.Schedule{
		ID:              r.ID,
		Name:            r.Name,
		Enabled:         r.Enabled == nil || *r.Enabled,
		StartTime:       r.StartTime,
		DurationMinutes: r.DurationMinutes,
		Repeat:          r.Repeat,
		DaysOfWeek:      r.DaysOfWeek,
	}

	var err error

	if s.StartDate, err = schedule.ParseDate(r.StartDate); err != nil {
		return s, &schedule.ValidationError{Field: "startDate", Msg: err.Error()}
	}

	if r.EndDate != "" {
		if s.EndDate, err = schedule.ParseDate(r.EndDate); err != nil {
			return s, &schedule.ValidationError{Field: "endDate", Msg: err.Error()}
		}
	}

	return s, nil
}

// SyncRequest narrows a round to some targets. Empty means every node of
// the path.
type SyncRequest struct {
	Targets []string `json:"targets,omitempty"`
}

// AttemptView is the JSON form of a sync attempt.
type AttemptView struct {
	TargetID       string      `json:"targetId"`
	State          isync.State `json:"state"`
	Message        string      `json:"message,omitempty"`
	DeliveredCount int         `json:"deliveredCount"`
	Tries          int         `json:"tries"`
	StartedAt      time.Time   `json:"startedAt,omitzero"`
	FinishedAt     time.Time   `json:"finishedAt,omitzero"`
	Error          string      `json:"error,omitempty"`
}

// ResultView is the JSON form of a sync round.
type ResultView struct {
	PathID     string        `json:"pathId"`
	Outcome    isync.Outcome `json:"outcome"`
	Summary    string        `json:"summary"`
	Attempts   []AttemptView `json:"attempts"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// NewResultView converts a round to its JSON form.
func NewResultView(r *isync.Result) *ResultView {
	v := &ResultView{
		PathID:     r.PathID,
		Outcome:    r.Outcome(),
		Summary:    r.Summary(),
		Attempts:   make([]AttemptView, len(r.Attempts)),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}

	for i, a := range r.Attempts {
		v.Attempts[i] = AttemptView{
			TargetID:       a.TargetID,
			State:          a.State,
			Message:        a.Message,
			DeliveredCount: a.DeliveredCount,
			Tries:          a.Tries,
			StartedAt:      a.StartedAt,
			FinishedAt:     a.FinishedAt,
		}

		if a.Err != nil {
			v.Attempts[i].Error = a.Err.Error()
		}
	}

	return v
}

// NodeView is a registry node with the role it would take in a path.
type NodeView struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Capabilities []registry.Capability `json:"capabilities"`
	Online       bool                  `json:"online"`
	Transport    string                `json:"transport,omitempty"`
	Address      string                `json:"address,omitempty"`
	Role         topology.Role         `json:"role"`
	Status       topology.NodeStatus   `json:"status"`
}

func newNodeView(n registry.Node) NodeView {
	caps := n.Capabilities
	if caps == nil {
		caps = []registry.Capability{}
	}

	return NodeView{
		ID:           n.ID,
		Name:         n.DisplayName(),
		Capabilities: caps,
		Online:       n.Online,
		Transport:    n.Transport,
		Address:      n.Address,
		Role:         registry.InferRole(n.Capabilities),
		Status:       registry.StatusFor(n),
	}
}
