// Package fork defines the descriptors shared by the gateway, its branch
// middleware and lifecycle extensions: a Fork instance, its Branches, the
// completion Policy and the per-node Config.
package fork

import (
	"strconv"
	"time"

	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
)

// Fork describes one execution of a fork node within a run.
type Fork struct {
	// ID identifies this fork instance. A branch handled in another
	// process invocation carries the originating ID.
	ID    id.ForkID
	RunID id.RunID
	// Node is the fork node; Join is the join found by lookahead.
	Node *graph.Node
	Join *graph.Node

	Config   Config
	Branches int
	// Arrivals is how many branches reach the join. Branches ending on a
	// terminal node finish without arriving.
	Arrivals int
	// CounterKey is the join counter key used in async mode.
	CounterKey string
	// Started is when the fork was dispatched.
	Started time.Time
}

// Branch is one outgoing path of a Fork.
type Branch struct {
	ID    id.BranchID
	Fork  *Fork
	Index int
	// Start is the target of the branch's outgoing edge.
	Start *graph.Node
	// Pool is the name of the pool the branch was submitted to.
	Pool string
}

// Name returns a readable branch label such as "split[1]->b".
func (b *Branch) Name() string {
	return b.Fork.Node.ID + "[" + strconv.Itoa(b.Index) + "]->" + b.Start.ID
}
