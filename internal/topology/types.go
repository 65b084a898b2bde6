// Package topology models an irrigation path as a directed graph of physical
// nodes (headgates, pumps, valves, sensors) joined by water conveyances, and
// tracks the path's flow state and externally supplied telemetry.
//
// Path is the aggregate root. Nodes and connections are stored in an arena
// keyed by node id; all mutation goes through Path methods so that the
// structural invariants hold after every successful call. A failed call
// leaves the path exactly as it was.
package topology

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/gatemesh/pathsync/internal/schedule"
)

// Role is the functional role of a node within a path. It is fixed when the
// node is added.
type Role string

// Node roles.
const (
	RoleSource   Role = "source"
	RolePump     Role = "pump"
	RoleValve    Role = "valve"
	RoleSensor   Role = "sensor"
	RoleJunction Role = "junction"
	RoleEndpoint Role = "endpoint"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSource, RolePump, RoleValve, RoleSensor, RoleJunction, RoleEndpoint:
		return true
	default:
		return false
	}
}

// NodeStatus mirrors the health reported by the node registry. It is not
// authoritative here.
type NodeStatus string

// Node health values.
const (
	NodeOK      NodeStatus = "ok"
	NodeWarning NodeStatus = "warning"
	NodeError   NodeStatus = "error"
	NodeOffline NodeStatus = "offline"
)

// Valid reports whether s is a known node status.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeOK, NodeWarning, NodeError, NodeOffline:
		return true
	default:
		return false
	}
}

// ConnectionKind is the physical conveyance between two nodes.
type ConnectionKind string

// Connection kinds.
const (
	KindPipe        ConnectionKind = "pipe"
	KindCanal       ConnectionKind = "canal"
	KindUnderground ConnectionKind = "underground"
)

// Valid reports whether k is a known connection kind.
func (k ConnectionKind) Valid() bool {
	switch k {
	case KindPipe, KindCanal, KindUnderground:
		return true
	default:
		return false
	}
}

// Status is the operating state of a path.
type Status string

// Path states.
const (
	StatusIdle        Status = "idle"
	StatusActive      Status = "active"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is a known path status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusActive, StatusError, StatusMaintenance:
		return true
	default:
		return false
	}
}

// PathNode is one physical point in a water-flow path. NodeID references a
// node known to the registry; the path stores only the id.
type PathNode struct {
	NodeID   string     `json:"nodeId" yaml:"node_id"`
	Order    int        `json:"order" yaml:"order"`
	Role     Role       `json:"role" yaml:"role"`
	Status   NodeStatus `json:"status" yaml:"status"`
	IsActive bool       `json:"isActive" yaml:"-"`

	// Last telemetry readings for this node, nil when never reported.
	FlowRate *float64 `json:"flowRate,omitempty" yaml:"-"`
	Pressure *float64 `json:"pressure,omitempty" yaml:"-"`
}

// Connection is a directed edge along which water moves from From to To.
// Size is in inches and Length in feet; both are optional.
type Connection struct {
	From      string         `json:"from" yaml:"from"`
	To        string         `json:"to" yaml:"to"`
	Kind      ConnectionKind `json:"kind" yaml:"kind"`
	Size      *float64       `json:"size,omitempty" yaml:"size,omitempty"`
	Length    *float64       `json:"length,omitempty" yaml:"length,omitempty"`
	IsFlowing bool           `json:"isFlowing" yaml:"-"`
}

// Metrics holds the path-level telemetry. Values are supplied by the
// telemetry feed and never computed here.
type Metrics struct {
	TotalFlowRate    float64 `json:"totalFlowRate" yaml:"-"`
	TotalPressure    float64 `json:"totalPressure" yaml:"-"`
	TotalVolumeToday float64 `json:"totalVolumeToday" yaml:"-"`
}

// Path is the aggregate root: an ordered set of nodes, the connections
// between them, the flow state and the schedules that drive it.
type Path struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	FarmID      string `json:"farmId,omitempty" yaml:"farm_id,omitempty"`
	ZoneID      string `json:"zoneId,omitempty" yaml:"zone_id,omitempty"`

	Nodes       []PathNode   `json:"nodes" yaml:"nodes"`
	Connections []Connection `json:"connections" yaml:"connections"`

	Status    Status  `json:"status" yaml:"-"`
	IsFlowing bool    `json:"isFlowing" yaml:"-"`
	Metrics   Metrics `json:"metrics" yaml:"-"`

	// Operating limits. Zero means unset.
	MaxFlowRate    float64 `json:"maxFlowRate,omitempty" yaml:"max_flow_rate,omitempty"`
	TargetPressure float64 `json:"targetPressure,omitempty" yaml:"target_pressure,omitempty"`

	Schedules []schedule.Schedule `json:"schedules" yaml:"schedules"`

	CreatedAt     time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"-"`
	LastActivated time.Time `json:"lastActivated,omitzero" yaml:"-"`
}

// NewPath returns an empty idle path.
func NewPath(id, name string) *Path {
	return &Path{
		ID:          id,
		Name:        NormalizeName(name),
		Nodes:       []PathNode{},
		Connections: []Connection{},
		Status:      StatusIdle,
		Schedules:   []schedule.Schedule{},
	}
}

// NormalizeName returns the NFC form of a user-supplied display name so that
// visually identical names compare equal regardless of input method.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}

// Clone returns a deep copy of the path.
func (p *Path) Clone() *Path {
	out := *p
	out.Nodes = make([]PathNode, len(p.Nodes))

	for i, n := range p.Nodes {
		n.FlowRate = clonePtr(n.FlowRate)
		n.Pressure = clonePtr(n.Pressure)
		out.Nodes[i] = n
	}

	out.Connections = make([]Connection, len(p.Connections))
	for i, c := range p.Connections {
		c.Size = clonePtr(c.Size)
		c.Length = clonePtr(c.Length)
		out.Connections[i] = c
	}

	out.Schedules = make([]schedule.Schedule, len(p.Schedules))
	for i := range p.Schedules {
		out.Schedules[i] = p.Schedules[i].Clone()
	}

	return &out
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}

	c := *v

	return &c
}
