package graph

import (
	"github.com/xraph/forkjoin"
)

// DefaultLookaheadDepth bounds the join search. Graphs deeper than this
// between a fork and its join are rejected rather than guessed at.
const DefaultLookaheadDepth = 20

// FindJoin searches depth-first from the fork's outgoing edges for the
// nearest Join node, visiting at most maxDepth nodes along any path.
// A maxDepth <= 0 uses DefaultLookaheadDepth. The bound also guards
// against cycles.
func FindJoin(p Provider, fork *Node, maxDepth int) (*Node, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultLookaheadDepth
	}

	var (
		best      *Node
		bestDepth = maxDepth + 1
	)
	for _, e := range p.Outgoing(fork) {
		j, d := findJoin(p, e.Target, 1, maxDepth)
		if j != nil && d < bestDepth {
			best, bestDepth = j, d
		}
	}
	if best == nil {
		return nil, &forkjoin.TopologyError{
			NodeID: fork.ID,
			Reason: "no join node within lookahead bound",
			Err:    forkjoin.ErrJoinNotFound,
		}
	}
	return best, nil
}

func findJoin(p Provider, nodeID string, depth, maxDepth int) (*Node, int) {
	if depth > maxDepth {
		return nil, 0
	}
	n, ok := p.Node(nodeID)
	if !ok {
		return nil, 0
	}
	if n.Kind == KindJoin {
		return n, depth
	}

	var (
		best      *Node
		bestDepth int
	)
	for _, e := range p.Outgoing(n) {
		j, d := findJoin(p, e.Target, depth+1, maxDepth)
		if j != nil && (best == nil || d < bestDepth) {
			best, bestDepth = j, d
		}
	}
	return best, bestDepth
}
