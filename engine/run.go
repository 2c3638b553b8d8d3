package engine

import (
	"time"

	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/runctx"
)

// Status is how a run ended.
type Status int

const (
	// StatusCompleted means the flow reached its end.
	StatusCompleted Status = iota + 1
	// StatusDegraded means a fork ended the flow on swallowed application
	// errors. They are listed in Result.Errors.
	StatusDegraded
	// StatusPending means an async fork is still outstanding. The branch
	// that completes it continues the flow.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusDegraded:
		return "degraded"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Result describes a finished Run.
type Result struct {
	RunID  id.RunID
	Status Status
	// Vars is the variable bag of the authoritative context at the end.
	Vars    map[string]any
	Errors  []error
	Elapsed time.Duration
}

// RunSpec is one run of RunAll.
type RunSpec struct {
	Graph   *graph.Graph
	Start   string
	Vars    map[string]any
	Options []RunOption
}

type runOptions struct {
	runID id.RunID
	flags runctx.Flags
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

// WithRunID sets the run ID instead of generating one.
func WithRunID(runID id.RunID) RunOption {
	return func(o *runOptions) {
		if !runID.IsNil() {
			o.runID = runID
		}
	}
}

// WithFlags sets the run-wide gateway flags. Fork node configuration may
// still override them per fork.
func WithFlags(f runctx.Flags) RunOption {
	return func(o *runOptions) { o.flags = f }
}
