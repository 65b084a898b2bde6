package topology

import (
	"errors"
	"math"
	"slices"
)

// FrontOrder passed as afterOrder to AddNode inserts the node at the head of
// the path.
const FrontOrder = -1

// AddNodeResult reports what AddNode changed. AutoConnection is the
// connection created from the previous node, or nil when none was created.
type AddNodeResult struct {
	Node           PathNode    `json:"node"`
	AutoConnection *Connection `json:"autoConnection,omitempty"`
}

// AddNode inserts a node. With a nil afterOrder the node is appended after
// the current last node. Otherwise it takes position *afterOrder+1 and every
// node at or beyond that position moves down by one; FrontOrder inserts at
// the head. Unless inserted at the head of a non-empty path, the new node
// gets a pipe connection from the node that now precedes it.
func (p *Path) AddNode(node PathNode, afterOrder *int) (AddNodeResult, error) {
	const op = "add node"

	if node.NodeID == "" {
		return AddNodeResult{}, topoErr(op, "node id is empty")
	}

	if _, ok := p.indexOf(node.NodeID); ok {
		return AddNodeResult{}, topoErr(op, "node %q already in path", node.NodeID)
	}

	if !node.Role.Valid() {
		return AddNodeResult{}, topoErr(op, "node %q: invalid role %q", node.NodeID, node.Role)
	}

	if node.Status == "" {
		node.Status = NodeOK
	}

	if !node.Status.Valid() {
		return AddNodeResult{}, topoErr(op, "node %q: invalid status %q", node.NodeID, node.Status)
	}

	var prev *PathNode

	switch {
	case afterOrder == nil:
		node.Order = 0
		if len(p.Nodes) > 0 {
			last := p.Nodes[len(p.Nodes)-1]
			prev = &last
			node.Order = last.Order + 1
		}
	case *afterOrder == FrontOrder:
		node.Order = 0
		p.shiftFrom(0)
	default:
		i, ok := p.indexAtOrder(*afterOrder)
		if !ok {
			return AddNodeResult{}, topoErr(op, "no node at order %d", *afterOrder)
		}

		anchor := p.Nodes[i]
		prev = &anchor
		node.Order = anchor.Order + 1
		p.shiftFrom(node.Order)
	}

	node.IsActive = false
	p.Nodes = append(p.Nodes, node)
	p.sortNodes()

	res := AddNodeResult{Node: node}

	if prev != nil {
		conn := Connection{From: prev.NodeID, To: node.NodeID, Kind: KindPipe}
		p.Connections = append(p.Connections, conn)
		res.AutoConnection = &conn
	}

	p.markFlow()

	if res.AutoConnection != nil {
		c, _ := p.Connection(res.AutoConnection.From, res.AutoConnection.To)
		res.AutoConnection = &c
	}

	res.Node, _ = p.Node(node.NodeID)

	return res, nil
}

// RemoveNode removes a node and every connection that touches it. Surviving
// orders are left as they are; call Reorder for a dense sequence.
func (p *Path) RemoveNode(nodeID string) error {
	i, ok := p.indexOf(nodeID)
	if !ok {
		return topoErr("remove node", "node %q not in path", nodeID)
	}

	p.Nodes = slices.Delete(p.Nodes, i, i+1)
	p.Connections = slices.DeleteFunc(p.Connections, func(c Connection) bool {
		return c.From == nodeID || c.To == nodeID
	})

	p.markFlow()

	return nil
}

// Reorder assigns Order = index for each id in nodeIDs. The ids must be
// exactly the path's current node set.
func (p *Path) Reorder(nodeIDs []string) error {
	const op = "reorder"

	if len(nodeIDs) != len(p.Nodes) {
		return topoErr(op, "got %d ids, path has %d nodes", len(nodeIDs), len(p.Nodes))
	}

	seen := make(map[string]int, len(nodeIDs))
	for i, id := range nodeIDs {
		if _, dup := seen[id]; dup {
			return topoErr(op, "node %q listed twice", id)
		}

		if _, ok := p.indexOf(id); !ok {
			return topoErr(op, "node %q not in path", id)
		}

		seen[id] = i
	}

	for i := range p.Nodes {
		p.Nodes[i].Order = seen[p.Nodes[i].NodeID]
	}

	p.sortNodes()

	return nil
}

// AddConnection adds a directed edge between two nodes of the path.
func (p *Path) AddConnection(from, to string, kind ConnectionKind) (Connection, error) {
	const op = "add connection"

	if _, ok := p.indexOf(from); !ok {
		return Connection{}, topoErr(op, "source node %q not in path", from)
	}

	if _, ok := p.indexOf(to); !ok {
		return Connection{}, topoErr(op, "target node %q not in path", to)
	}

	if from == to {
		return Connection{}, topoErr(op, "self loop on %q", from)
	}

	if !kind.Valid() {
		return Connection{}, topoErr(op, "invalid kind %q", kind)
	}

	if _, ok := p.Connection(from, to); ok {
		return Connection{}, topoErr(op, "connection %s -> %s already exists", from, to)
	}

	p.Connections = append(p.Connections, Connection{From: from, To: to, Kind: kind})
	p.markFlow()

	c, _ := p.Connection(from, to)

	return c, nil
}

// SetConnectionDimensions records the physical size (inches) and length
// (feet) of an existing edge. Nil leaves a value unset.
func (p *Path) SetConnectionDimensions(from, to string, size, length *float64) error {
	const op = "set connection dimensions"

	i := slices.IndexFunc(p.Connections, func(c Connection) bool { return c.From == from && c.To == to })
	if i < 0 {
		return topoErr(op, "connection %s -> %s not in path", from, to)
	}

	for _, v := range []*float64{size, length} {
		if v != nil && (*v <= 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return topoErr(op, "dimension %v must be a positive number", *v)
		}
	}

	p.Connections[i].Size = clonePtr(size)
	p.Connections[i].Length = clonePtr(length)

	return nil
}

// RemoveConnection removes the edge from -> to. Removing an edge that does
// not exist is not an error.
func (p *Path) RemoveConnection(from, to string) {
	p.Connections = slices.DeleteFunc(p.Connections, func(c Connection) bool {
		return c.From == from && c.To == to
	})

	p.markFlow()
}

// SetFlowing switches the path's flow flag and re-derives which edges and
// nodes carry water. See markFlow for the reachability rule.
func (p *Path) SetFlowing(flowing bool) {
	p.IsFlowing = flowing
	p.markFlow()
}

// markFlow derives Connection.IsFlowing and PathNode.IsActive from the flow
// flag. When the path is flowing, water is traced from every source node
// along directed edges; an edge flows when its upstream end is reached. A
// path without any source node is traced from every node, so every edge
// flows.
func (p *Path) markFlow() {
	if !p.IsFlowing {
		for i := range p.Connections {
			p.Connections[i].IsFlowing = false
		}

		for i := range p.Nodes {
			p.Nodes[i].IsActive = false
		}

		return
	}

	reached := p.reachableFromSources()

	for i := range p.Connections {
		p.Connections[i].IsFlowing = reached[p.Connections[i].From]
	}

	for i := range p.Nodes {
		p.Nodes[i].IsActive = reached[p.Nodes[i].NodeID]
	}
}

func (p *Path) reachableFromSources() map[string]bool {
	reached := make(map[string]bool, len(p.Nodes))
	queue := make([]string, 0, len(p.Nodes))

	for _, n := range p.Nodes {
		if n.Role == RoleSource {
			queue = append(queue, n.NodeID)
		}
	}

	if len(queue) == 0 {
		for _, n := range p.Nodes {
			queue = append(queue, n.NodeID)
		}
	}

	for _, id := range queue {
		reached[id] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, c := range p.Connections {
			if c.From == cur && !reached[c.To] {
				reached[c.To] = true
				queue = append(queue, c.To)
			}
		}
	}

	return reached
}

// Node returns the node with the given id.
func (p *Path) Node(nodeID string) (PathNode, bool) {
	i, ok := p.indexOf(nodeID)
	if !ok {
		return PathNode{}, false
	}

	return p.Nodes[i], true
}

// NodeIDs returns the node ids in flow order.
func (p *Path) NodeIDs() []string {
	ids := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.NodeID
	}

	return ids
}

// Connection returns the edge from -> to.
func (p *Path) Connection(from, to string) (Connection, bool) {
	for _, c := range p.Connections {
		if c.From == from && c.To == to {
			return c, true
		}
	}

	return Connection{}, false
}

// Validate checks the structural invariants of a path, typically one loaded
// from storage or an import document. All violations are returned joined.
func (p *Path) Validate() error {
	const op = "validate"

	var errs []error

	if p.ID == "" {
		errs = append(errs, topoErr(op, "path id is empty"))
	}

	if !p.Status.Valid() {
		errs = append(errs, topoErr(op, "invalid status %q", p.Status))
	}

	ids := make(map[string]bool, len(p.Nodes))
	orders := make(map[int]string, len(p.Nodes))

	for _, n := range p.Nodes {
		if ids[n.NodeID] {
			errs = append(errs, topoErr(op, "duplicate node %q", n.NodeID))
		}

		ids[n.NodeID] = true

		if other, dup := orders[n.Order]; dup {
			errs = append(errs, topoErr(op, "nodes %q and %q share order %d", other, n.NodeID, n.Order))
		}

		orders[n.Order] = n.NodeID

		if !n.Role.Valid() {
			errs = append(errs, topoErr(op, "node %q: invalid role %q", n.NodeID, n.Role))
		}

		if !n.Status.Valid() {
			errs = append(errs, topoErr(op, "node %q: invalid status %q", n.NodeID, n.Status))
		}
	}

	edges := make(map[[2]string]bool, len(p.Connections))

	for _, c := range p.Connections {
		if !ids[c.From] || !ids[c.To] {
			errs = append(errs, topoErr(op, "connection %s -> %s references a missing node", c.From, c.To))
		}

		if c.From == c.To {
			errs = append(errs, topoErr(op, "self loop on %q", c.From))
		}

		key := [2]string{c.From, c.To}
		if edges[key] {
			errs = append(errs, topoErr(op, "duplicate connection %s -> %s", c.From, c.To))
		}

		edges[key] = true

		if !c.Kind.Valid() {
			errs = append(errs, topoErr(op, "connection %s -> %s: invalid kind %q", c.From, c.To, c.Kind))
		}

		if c.IsFlowing && !p.IsFlowing {
			errs = append(errs, topoErr(op, "connection %s -> %s flows on an idle path", c.From, c.To))
		}
	}

	if p.Status == StatusActive && len(p.Nodes) < 2 {
		errs = append(errs, topoErr(op, "active path has %d nodes", len(p.Nodes)))
	}

	return errors.Join(errs...)
}

func (p *Path) indexOf(nodeID string) (int, bool) {
	for i := range p.Nodes {
		if p.Nodes[i].NodeID == nodeID {
			return i, true
		}
	}

	return 0, false
}

func (p *Path) indexAtOrder(order int) (int, bool) {
	for i := range p.Nodes {
		if p.Nodes[i].Order == order {
			return i, true
		}
	}

	return 0, false
}

// shiftFrom moves every node at or beyond order one position down.
func (p *Path) shiftFrom(order int) {
	for i := range p.Nodes {
		if p.Nodes[i].Order >= order {
			p.Nodes[i].Order++
		}
	}
}

func (p *Path) sortNodes() {
	slices.SortStableFunc(p.Nodes, func(a, b PathNode) int {
		return a.Order - b.Order
	})
}
