package gateway

import (
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
)

// State is how a fork ended from the dispatching caller's point of view.
type State int

const (
	// StateResumed means the policy was satisfied and the continuation ran.
	StateResumed State = iota + 1
	// StateDegraded means application errors ended a trace-output fork
	// without a continuation and without an error.
	StateDegraded
	// StatePending means an async fork was launched; a branch will resume
	// the flow when the join counter reaches zero.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateResumed:
		return "resumed"
	case StateDegraded:
		return "degraded"
	case StatePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Signal is the explicit result of one branch: the join it reached, if any,
// and the branch context.
type Signal struct {
	Branch *fork.Branch
	// Join is the join node the branch reached, nil for a terminal node.
	Join    *graph.Node
	Context *runctx.Context

	// Pending is set in async mode when other branches are still
	// outstanding or the fork was already finalized.
	Pending bool
	// Authoritative is set in async mode on the branch that observed the
	// counter at zero and ran the continuation.
	Authoritative bool
	// Next is where that continuation stopped (nil at the end of the flow).
	Next *graph.Node
}

// Outcome is the result of orchestrating one fork.
type Outcome struct {
	State State
	Fork  *fork.Fork

	// Join is the node the continuation resumed from.
	Join *graph.Node
	// Next is where the continuation stopped, nil at the end of the flow.
	Next *graph.Node
	// Context is the authoritative context the continuation ran with.
	Context *runctx.Context

	// Branches holds the signals of completed branches in completion order.
	Branches []Signal
	// Errors holds application errors swallowed in trace-output mode.
	Errors []error
	// TimedOut is set when a skipped timeout cut the wait short.
	TimedOut bool
}
