package graph

import (
	"fmt"
	"strings"
)

// Kind tags a node's gateway behaviour.
type Kind int

const (
	// KindOrdinary is a plain activity node.
	KindOrdinary Kind = iota
	// KindFork fans out into concurrent branches.
	KindFork
	// KindJoin is where the branches of a fork reconverge.
	KindJoin
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindOrdinary:
		return "ordinary"
	case KindFork:
		return "fork"
	case KindJoin:
		return "join"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses "ordinary", "fork" or "join". An empty string is Ordinary.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ordinary":
		return KindOrdinary, nil
	case "fork":
		return KindFork, nil
	case "join":
		return KindJoin, nil
	default:
		return KindOrdinary, fmt.Errorf("graph: unknown node kind %q", s)
	}
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Source string `json:"source" yaml:"from"`
	Target string `json:"target" yaml:"to"`
}

// Node is a single vertex of the workflow graph.
type Node struct {
	ID   string
	Kind Kind

	// Activity names the registered activity the sequential executor runs
	// for this node. Empty means the node only routes.
	Activity string

	// Config holds string-keyed node configuration (pool, timeout, policy
	// and flags for forks; arbitrary activity settings otherwise).
	Config map[string]string

	incoming []Edge
	outgoing []Edge
}

// Incoming returns a copy of the node's incoming edges.
func (n *Node) Incoming() []Edge { return append([]Edge(nil), n.incoming...) }

// Outgoing returns a copy of the node's outgoing edges.
func (n *Node) Outgoing() []Edge { return append([]Edge(nil), n.outgoing...) }

// ConfigValue returns the configuration value for key.
func (n *Node) ConfigValue(key string) (string, bool) {
	v, ok := n.Config[key]
	return v, ok
}

// IsFork reports whether the node is a Fork.
func (n *Node) IsFork() bool { return n.Kind == KindFork }

// IsJoin reports whether the node is a Join.
func (n *Node) IsJoin() bool { return n.Kind == KindJoin }

func (n *Node) String() string { return n.Kind.String() + ":" + n.ID }
