package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/worker"
)

// branchTask couples a branch with its isolated child context and the
// pool it runs on.
type branchTask struct {
	branch *fork.Branch
	ec     *runctx.Context
	pool   *worker.Pool
}

// runBranch walks the branch through the middleware chain until it reaches
// the join (not executed), a terminal node or an error.
func (g *Gateway) runBranch(ctx context.Context, t *branchTask) (Signal, error) {
	start := time.Now()
	sig := Signal{Branch: t.branch, Context: t.ec}

	err := g.mw(ctx, t.branch, func(ctx context.Context) error {
		join, err := g.seq.Enter(ctx, t.branch.Start, t.ec)
		if err != nil {
			return err
		}
		if join != nil && join.ID != t.branch.Fork.Join.ID {
			return &forkjoin.TopologyError{
				NodeID: t.branch.Fork.Node.ID,
				Reason: fmt.Sprintf("branch via %q reached join %q, expected %q",
					t.branch.Start.ID, join.ID, t.branch.Fork.Join.ID),
			}
		}
		sig.Join = join
		return nil
	})
	if err != nil {
		return sig, err
	}

	g.emitter.EmitBranchCompleted(ctx, t.branch, sig.Join, time.Since(start))
	return sig, nil
}

type taskResult struct {
	task *branchTask
	sig  Signal
	err  error
}

// submit runs the branch on its pool and waits for it. A submitted task
// always runs, so the wait ends once the branch observes cancellation.
func (g *Gateway) submit(ctx context.Context, t *branchTask) (Signal, error) {
	done := make(chan taskResult, 1)
	err := t.pool.Submit(ctx, func(tctx context.Context) {
		sig, err := g.runBranch(tctx, t)
		done <- taskResult{task: t, sig: sig, err: err}
	})
	if err != nil {
		return Signal{Branch: t.branch, Context: t.ec}, fmt.Errorf("gateway: submit branch %s to pool %q: %w",
			t.branch.Name(), t.pool.Name(), err)
	}
	r := <-done
	return r.sig, r.err
}
