// Package registry is the boundary to the node registry: the source of node
// identity, capability tags, online state and the transport used to reach
// each node. The rest of the module only reads from it.
package registry

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gatemesh/pathsync/internal/topology"
)

// Capability is a node-type tag reported by a node. A node may carry
// several.
type Capability string

// Known capability tags. The numeric codes used by node firmware are mapped
// by ParseCapability.
const (
	CapUndefined          Capability = "UNDEFINED"
	CapHeadgateController Capability = "HEADGATE_CONTROLLER"
	CapPumpController     Capability = "PUMP_CONTROLLER"
	CapSectionController  Capability = "SECTION_CONTROLLER"
	CapWaterLevelSensor   Capability = "WATER_LEVEL_SENSOR"
	CapFlowSensor         Capability = "FLOW_SENSOR"
	CapSoilMoistureSensor Capability = "SOIL_MOISTURE_SENSOR"
	CapPressureSensor     Capability = "PRESSURE_SENSOR"
	CapWeatherStation     Capability = "WEATHER_STATION"
	CapGateValve          Capability = "GATE_VALVE"
	CapVariableValve      Capability = "VARIABLE_VALVE"
	CapPumpRelay          Capability = "PUMP_RELAY"
	CapLateralValve       Capability = "LATERAL_VALVE"
)

var capabilityCodes = map[int]Capability{
	0:  CapUndefined,
	1:  CapHeadgateController,
	2:  CapPumpController,
	3:  CapSectionController,
	10: CapWaterLevelSensor,
	11: CapFlowSensor,
	12: CapSoilMoistureSensor,
	13: CapPressureSensor,
	14: CapWeatherStation,
	20: CapGateValve,
	21: CapVariableValve,
	22: CapPumpRelay,
	23: CapLateralValve,
}

// ParseCapability accepts a tag name in any case, with '-' or '_' as the
// word separator, or a numeric firmware code.
func ParseCapability(s string) (Capability, error) {
	s = strings.TrimSpace(s)

	if code, err := strconv.Atoi(s); err == nil {
		c, ok := capabilityCodes[code]
		if !ok {
			return "", fmt.Errorf("registry: unknown capability code %d", code)
		}

		return c, nil
	}

	name := Capability(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	for _, c := range capabilityCodes {
		if c == name {
			return c, nil
		}
	}

	return "", fmt.Errorf("registry: unknown capability %q", s)
}

// Node is a registry entry.
type Node struct {
	ID           string
	Name         string
	Capabilities []Capability
	Online       bool

	// Transport names the link used to reach the node ("http", "websocket"
	// or "serial"); empty means the default transport. Address is the
	// transport-specific node address, defaulting to ID.
	Transport string
	Address   string
}

// Has reports whether the node carries capability c.
func (n Node) Has(c Capability) bool {
	return slices.Contains(n.Capabilities, c)
}

// DisplayName returns Name, or ID when the node has no name.
func (n Node) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// Registry looks up nodes by id.
type Registry interface {
	Node(id string) (Node, bool)
	Nodes() []Node
}

// InferRole derives the path role of a node from its capability tags. The
// first matching rule wins: headgate controllers are sources, pump
// controllers pumps, gate and variable valves valves, section controllers
// endpoints. Anything else, including flow and pressure sensors, is a
// sensor.
func InferRole(caps []Capability) topology.Role {
	has := func(cs ...Capability) bool {
		for _, c := range cs {
			if slices.Contains(caps, c) {
				return true
			}
		}

		return false
	}

	switch {
	case has(CapHeadgateController):
		return topology.RoleSource
	case has(CapPumpController):
		return topology.RolePump
	case has(CapGateValve, CapVariableValve):
		return topology.RoleValve
	case has(CapFlowSensor, CapPressureSensor):
		return topology.RoleSensor
	case has(CapSectionController):
		return topology.RoleEndpoint
	default:
		return topology.RoleSensor
	}
}

// StatusFor maps registry health onto a path node status.
func StatusFor(n Node) topology.NodeStatus {
	if n.Online {
		return topology.NodeOK
	}

	return topology.NodeOffline
}

// PathNode returns the path node for a registry entry, with its role
// inferred from capabilities and its status taken from online state.
func PathNode(n Node) topology.PathNode {
	return topology.PathNode{
		NodeID: n.ID,
		Role:   InferRole(n.Capabilities),
		Status: StatusFor(n),
	}
}

// StatusLookup adapts r for topology.Path.RefreshNodeStatus.
func StatusLookup(r Registry) func(string) (topology.NodeStatus, bool) {
	return func(id string) (topology.NodeStatus, bool) {
		n, ok := r.Node(id)
		if !ok {
			return "", false
		}

		return StatusFor(n), true
	}
}

// Static is an in-memory registry. Replace swaps the whole node set, which
// is how configuration reloads reach running components. Safe for
// concurrent use.
type Static struct {
	mu    sync.RWMutex
	nodes map[string]Node
}

// NewStatic returns a registry holding nodes.
func NewStatic(nodes []Node) *Static {
	s := &Static{}
	s.Replace(nodes)

	return s
}

// Node implements Registry.
func (s *Static) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]

	return n, ok
}

// Nodes implements Registry. The result is sorted by id.
func (s *Static) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}

	slices.SortFunc(out, func(a, b Node) int { return strings.Compare(a.ID, b.ID) })

	return out
}

// Replace swaps the node set.
func (s *Static) Replace(nodes []Node) {
	m := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		n.Capabilities = slices.Clone(n.Capabilities)
		m[n.ID] = n
	}

	s.mu.Lock()
	s.nodes = m
	s.mu.Unlock()
}

// SetOnline updates one node's online flag. It reports false for an unknown
// node.
func (s *Static) SetOnline(id string, online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return false
	}

	n.Online = online
	s.nodes[id] = n

	return true
}
