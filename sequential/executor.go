// Package sequential walks a graph one node at a time. It runs the
// registered activity of each node, stops at join nodes and hands fork
// nodes to a Forker, normally the parallel gateway.
package sequential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
)

// Activity is the work bound to a node. It reads and writes the run's
// variables through ec.
type Activity func(ctx context.Context, node *graph.Node, ec *runctx.Context) error

// Forker orchestrates fork nodes on behalf of the executor. It returns
// where the walk after the fork stopped: a join, or nil at the end of the
// flow or when the fork did not continue.
type Forker interface {
	Fork(ctx context.Context, node *graph.Node, ec *runctx.Context) (*graph.Node, error)
}

// Executor is the sequential graph walker.
type Executor struct {
	mu         sync.RWMutex
	activities map[string]Activity
	forker     Forker
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithForker sets the fork orchestrator.
func WithForker(f Forker) Option {
	return func(e *Executor) { e.forker = f }
}

// New creates an Executor with no activities registered.
func New(opts ...Option) *Executor {
	e := &Executor{
		activities: make(map[string]Activity),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds an activity name. Registering a name again replaces it.
func (e *Executor) Register(name string, a Activity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = a
}

// SetForker sets the fork orchestrator after construction. The gateway
// needs the executor to exist first, so wiring usually ends here.
func (e *Executor) SetForker(f Forker) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forker = f
}

func (e *Executor) activity(name string) (Activity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.activities[name]
	return a, ok
}

// Execute runs the activity of node. A node without an activity only
// routes and succeeds.
func (e *Executor) Execute(ctx context.Context, node *graph.Node, ec *runctx.Context) error {
	if node.Activity == "" {
		return nil
	}
	a, ok := e.activity(node.Activity)
	if !ok {
		return fmt.Errorf("%w: %q on node %q", forkjoin.ErrActivityNotFound, node.Activity, node.ID)
	}
	if err := a(ctx, node, ec); err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}
	return nil
}

// Enter executes node and its successors. It returns the first join it
// reaches without executing it, or nil once the flow ends. Fork nodes run
// their own activity and are then delegated to the Forker, whose result
// ends the walk.
func (e *Executor) Enter(ctx context.Context, node *graph.Node, ec *runctx.Context) (*graph.Node, error) {
	p := ec.Graph()
	if p == nil {
		return nil, errors.New("sequential: execution context has no graph")
	}

	for node != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if node.Kind == graph.KindJoin {
			return node, nil
		}

		e.logger.Debug("executing node",
			slog.String("run_id", ec.RunID().String()),
			slog.String("node", node.ID),
			slog.String("kind", node.Kind.String()),
		)
		if err := e.Execute(ctx, node, ec); err != nil {
			return nil, err
		}

		if node.Kind == graph.KindFork {
			e.mu.RLock()
			f := e.forker
			e.mu.RUnlock()
			if f == nil {
				return nil, &forkjoin.TopologyError{NodeID: node.ID, Reason: "fork node with no fork orchestrator"}
			}
			return f.Fork(ctx, node, ec)
		}

		out := p.Outgoing(node)
		switch len(out) {
		case 0:
			return nil, nil
		case 1:
			next, ok := p.Node(out[0].Target)
			if !ok {
				return nil, fmt.Errorf("%w: %q after %q", forkjoin.ErrNodeNotFound, out[0].Target, node.ID)
			}
			node = next
		default:
			return nil, &forkjoin.TopologyError{
				NodeID: node.ID,
				Reason: fmt.Sprintf("%d outgoing edges on a non-fork node", len(out)),
			}
		}
	}
	return nil, nil
}
