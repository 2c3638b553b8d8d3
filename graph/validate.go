package graph

import (
	"errors"
	"fmt"

	"github.com/xraph/forkjoin"
)

// Validate checks the gateway topology rules for every node of g and
// returns all violations joined together. maxDepth bounds the join
// lookahead (<= 0 uses DefaultLookaheadDepth).
func Validate(g *Graph, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultLookaheadDepth
	}

	var errs []error
	for _, n := range g.Nodes() {
		if err := ValidateNode(g, n); err != nil {
			errs = append(errs, err)
			continue
		}
		if n.Kind == KindFork {
			if _, err := ForkJoin(g, n, maxDepth); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ValidateNode checks the edge cardinality rules for a single node.
func ValidateNode(p Provider, n *Node) error {
	in, out := len(p.Incoming(n)), len(p.Outgoing(n))
	switch n.Kind {
	case KindFork:
		if out < 2 {
			return topology(n, fmt.Sprintf("fork needs at least 2 outgoing edges, has %d", out))
		}
		if in != 1 {
			return topology(n, fmt.Sprintf("fork needs exactly 1 incoming edge, has %d", in))
		}
	case KindJoin:
		if in < 2 {
			return topology(n, fmt.Sprintf("join needs at least 2 incoming edges, has %d", in))
		}
		if out != 1 {
			return topology(n, fmt.Sprintf("join needs exactly 1 outgoing edge, has %d", out))
		}
	case KindOrdinary:
		if out > 1 {
			return topology(n, fmt.Sprintf("ordinary node has %d outgoing edges; use a fork", out))
		}
	default:
		return topology(n, "unknown node kind "+n.Kind.String())
	}
	return nil
}

// ForkJoin resolves the join for fork and verifies that every branch walks
// to that join (or to a terminal node) without crossing another fork.
func ForkJoin(p Provider, fork *Node, maxDepth int) (*Node, error) {
	join, _, err := Converge(p, fork, maxDepth)
	return join, err
}

// Converge is ForkJoin that also reports how many branches reach the join.
// Branches ending on a terminal node are not counted.
func Converge(p Provider, fork *Node, maxDepth int) (*Node, int, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultLookaheadDepth
	}
	join, err := FindJoin(p, fork, maxDepth)
	if err != nil {
		return nil, 0, err
	}

	var arrivals int
	for _, e := range p.Outgoing(fork) {
		reached, err := walkBranch(p, fork, e.Target, maxDepth)
		if err != nil {
			return nil, 0, err
		}
		if reached == nil {
			continue
		}
		if reached.ID != join.ID {
			return nil, 0, topology(fork, fmt.Sprintf("branch via %q converges on %q, expected %q",
				e.Target, reached.ID, join.ID))
		}
		arrivals++
	}
	return join, arrivals, nil
}

// walkBranch follows a branch from start to its join. It returns nil when
// the branch ends on a terminal node.
func walkBranch(p Provider, fork *Node, start string, maxDepth int) (*Node, error) {
	cur := start
	for depth := 1; depth <= maxDepth; depth++ {
		n, ok := p.Node(cur)
		if !ok {
			return nil, topology(fork, fmt.Sprintf("branch references unknown node %q", cur))
		}
		switch n.Kind {
		case KindJoin:
			return n, nil
		case KindFork:
			return nil, &forkjoin.TopologyError{
				NodeID: fork.ID,
				Reason: fmt.Sprintf("branch via %q reaches fork %q before its join", start, n.ID),
				Err:    forkjoin.ErrNestedGateway,
			}
		}
		out := p.Outgoing(n)
		if len(out) == 0 {
			return nil, nil
		}
		cur = out[0].Target
	}
	return nil, &forkjoin.TopologyError{
		NodeID: fork.ID,
		Reason: fmt.Sprintf("branch via %q exceeds lookahead depth %d", start, maxDepth),
		Err:    forkjoin.ErrJoinNotFound,
	}
}

func topology(n *Node, reason string) error {
	return &forkjoin.TopologyError{NodeID: n.ID, Reason: reason}
}
