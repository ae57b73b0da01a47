package scheduler

import (
	"errors"
)

// NodeID addresses an action inside one Graph. IDs are assigned in discovery
// order, so building the same unchanged action graph twice yields the same IDs.
type NodeID int

// Node is one action of a Graph with its edges.
type Node struct {
	ID           NodeID
	Action       *Action
	Dependencies []NodeID // In declaration order
	Dependents   []NodeID // In ascending ID order
}

// Graph is the validated, read-only dependency graph reachable from a root.
// It snapshots the dependencies at build time; later calls to DependOn do
// not affect it.
type Graph struct {
	nodes []Node
	index map[*Action]NodeID
	order []NodeID // Post-order: dependencies before dependents
}

// Build traverses the actions reachable from root, deduplicating shared
// dependencies, and returns a *CycleError if the traversal finds a cycle.
func Build(root *Action) (*Graph, error) {
	if root == nil {
		return nil, errors.New("nil root action")
	}

	b := &graphBuilder{
		g: &Graph{index: make(map[*Action]NodeID)},
	}
	if _, err := b.visit(root); err != nil {
		return nil, err
	}

	// Build dependents map for efficient downstream lookup
	for id := range b.g.nodes {
		for _, depID := range b.g.nodes[id].Dependencies {
			b.g.nodes[depID].Dependents = append(b.g.nodes[depID].Dependents, NodeID(id))
		}
	}

	return b.g, nil
}

type visitState int

const (
	onStack visitState = iota
	resolved
)

type graphBuilder struct {
	g     *Graph
	state []visitState // Indexed by NodeID
	stack []NodeID
}

func (b *graphBuilder) visit(a *Action) (NodeID, error) {
	if id, seen := b.g.index[a]; seen {
		if b.state[id] == onStack {
			return id, b.cycleThrough(id)
		}
		return id, nil
	}

	id := NodeID(len(b.g.nodes))
	b.g.index[a] = id
	b.g.nodes = append(b.g.nodes, Node{ID: id, Action: a})
	b.state = append(b.state, onStack)
	b.stack = append(b.stack, id)

	deps := a.Dependencies()
	depIDs := make([]NodeID, 0, len(deps))
	for _, dep := range deps {
		depID, err := b.visit(dep)
		if err != nil {
			return id, err
		}
		depIDs = append(depIDs, depID)
	}

	b.g.nodes[id].Dependencies = depIDs
	b.stack = b.stack[:len(b.stack)-1]
	b.state[id] = resolved
	b.g.order = append(b.g.order, id)
	return id, nil
}

// cycleThrough reports the cycle closed by reaching id while it is on the stack.
func (b *graphBuilder) cycleThrough(id NodeID) error {
	start := len(b.stack) - 1
	for start > 0 && b.stack[start] != id {
		start--
	}

	cycle := make([]*Action, 0, len(b.stack)-start+1)
	for _, onPath := range b.stack[start:] {
		cycle = append(cycle, b.g.nodes[onPath].Action)
	}
	cycle = append(cycle, b.g.nodes[id].Action)
	return &CycleError{Cycle: cycle}
}

// Root returns the action the graph was built from.
func (g *Graph) Root() *Action {
	return g.nodes[0].Action
}

// Len returns the number of distinct actions in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Lookup returns the node ID of an action, if it belongs to the graph.
func (g *Graph) Lookup(a *Action) (NodeID, bool) {
	id, ok := g.index[a]
	return id, ok
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id NodeID) Node {
	return cloneNode(g.nodes[id])
}

// Nodes returns copies of all nodes in ID order.
func (g *Graph) Nodes() []Node {
	nodes := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = cloneNode(n)
	}
	return nodes
}

// Order returns one topological ordering of the graph: a depth-first
// post-order that visits dependencies in declaration order. The root is last.
func (g *Graph) Order() []*Action {
	actions := make([]*Action, len(g.order))
	for i, id := range g.order {
		actions[i] = g.nodes[id].Action
	}
	return actions
}

// PossibleExecutionOrder validates the graph reachable from root and returns
// an order in which the actions could be executed. No behavior is invoked.
func PossibleExecutionOrder(root *Action) ([]*Action, error) {
	g, err := Build(root)
	if err != nil {
		return nil, err
	}
	return g.Order(), nil
}

// Preview returns the labels of PossibleExecutionOrder, skipping actions
// without a label.
func Preview(root *Action) ([]string, error) {
	order, err := PossibleExecutionOrder(root)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(order))
	for _, a := range order {
		if a.Label() != "" {
			labels = append(labels, a.Label())
		}
	}
	return labels, nil
}

func cloneNode(n Node) Node {
	cp := n
	cp.Dependencies = append([]NodeID(nil), n.Dependencies...)
	cp.Dependents = append([]NodeID(nil), n.Dependents...)
	return cp
}
