package graph

import (
	"fmt"

	"github.com/xraph/forkjoin"
)

// Provider is the read-only view of a graph the engine depends on.
type Provider interface {
	// Node returns the node with the given ID.
	Node(id string) (*Node, bool)
	// Outgoing returns the outgoing edges of n.
	Outgoing(n *Node) []Edge
	// Incoming returns the incoming edges of n.
	Incoming(n *Node) []Edge
}

// Compile-time interface check.
var _ Provider = (*Graph)(nil)

// Graph is an immutable in-memory Provider. Build one with a Builder or
// LoadYAML.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Lookup returns the node with the given ID or an error wrapping
// ErrNodeNotFound.
func (g *Graph) Lookup(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", forkjoin.ErrNodeNotFound, id)
	}
	return n, nil
}

// Outgoing returns the outgoing edges of n.
func (g *Graph) Outgoing(n *Node) []Edge { return n.Outgoing() }

// Incoming returns the incoming edges of n.
func (g *Graph) Incoming(n *Node) []Edge { return n.Incoming() }

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, nid := range g.order {
		out = append(out, g.nodes[nid])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }
