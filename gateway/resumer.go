package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
)

// Resumer continues sequential execution from a join node with the
// authoritative branch context.
type Resumer struct {
	seq     Sequential
	emitter Emitter
	logger  *slog.Logger
}

// Resume executes the join node and walks on from its successor. It
// returns where that walk stopped, nil at the end of the flow.
//
// For an async fork it first clears the active-fork marker and deletes
// the join counter.
func (r *Resumer) Resume(ctx context.Context, f *fork.Fork, join *graph.Node, ec *runctx.Context) (*graph.Node, error) {
	if f.Config.Async {
		ec.SetActiveFork(false)
		if cnt := ec.Counter(); cnt != nil {
			if err := cnt.Delete(ctx, f.CounterKey); err != nil {
				r.logger.Warn("failed to delete join counter",
					slog.String("key", f.CounterKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	r.emitter.EmitContinuationResumed(ctx, f, join)
	r.logger.Debug("resuming from join",
		slog.String("run_id", f.RunID.String()),
		slog.String("fork", f.Node.ID),
		slog.String("join", join.ID),
	)

	if err := r.seq.Execute(ctx, join, ec); err != nil {
		return nil, err
	}

	p := ec.Graph()
	if p == nil {
		return nil, errors.New("gateway: execution context has no graph")
	}
	out := p.Outgoing(join)
	if len(out) == 0 {
		return nil, nil
	}
	next, ok := p.Node(out[0].Target)
	if !ok {
		return nil, fmt.Errorf("%w: %q after join %q", forkjoin.ErrNodeNotFound, out[0].Target, join.ID)
	}
	return r.seq.Enter(ctx, next, ec)
}
