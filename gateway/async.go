package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/worker"
)

// errRaceDecided cancels the local losers of an async race once a branch
// has taken the join counter to zero.
var errRaceDecided = errors.New("gateway: race decided")

// BranchRequest is the serializable description of one async branch. A
// Launcher may hand it to another process invocation, which runs it with
// Gateway.HandleBranch.
type BranchRequest struct {
	RunID     id.RunID        `json:"run_id"`
	ForkID    id.ForkID       `json:"fork_id"`
	ForkNode  string          `json:"fork_node"`
	Index     int             `json:"index"`
	StartNode string          `json:"start_node"`
	Pool      string          `json:"pool,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Context   runctx.Snapshot `json:"context"`
}

func newBranchRequest(t *branchTask) BranchRequest {
	f := t.branch.Fork
	return BranchRequest{
		RunID:     f.RunID,
		ForkID:    f.ID,
		ForkNode:  f.Node.ID,
		Index:     t.branch.Index,
		StartNode: t.branch.Start.ID,
		Pool:      t.branch.Pool,
		StartedAt: f.Started,
		Context:   t.ec.Snapshot(),
	}
}

// Launcher starts async branches. local runs the branch in this process;
// a launcher may call it or ship req to another invocation instead. For a
// RaceFirst fork ctx is canceled once the race is decided, which stops
// local losers only. Branches shipped elsewhere run to completion and find
// the join counter already finalized.
type Launcher interface {
	Launch(ctx context.Context, pool *worker.Pool, req BranchRequest, local worker.Task) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, pool *worker.Pool, req BranchRequest, local worker.Task) error

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, pool *worker.Pool, req BranchRequest, local worker.Task) error {
	return f(ctx, pool, req, local)
}

// LocalLauncher runs async branches on the resolved local pool.
type LocalLauncher struct{}

// Launch submits local to pool.
func (LocalLauncher) Launch(ctx context.Context, pool *worker.Pool, _ BranchRequest, local worker.Task) error {
	return pool.Submit(ctx, local)
}

// HandleBranch runs one async branch described by req in this invocation.
// opts attach the local handles (graph, counter, pools) to the restored
// context. The branch that takes the join counter to zero runs the
// continuation here and returns an Authoritative signal; the others return
// a Pending one.
func (g *Gateway) HandleBranch(ctx context.Context, req BranchRequest, opts ...runctx.Option) (Signal, error) {
	ec := runctx.Restore(req.Context, opts...)
	p := ec.Graph()
	if p == nil {
		return Signal{}, errors.New("gateway: branch request has no graph to run against")
	}
	node, ok := p.Node(req.ForkNode)
	if !ok {
		return Signal{}, fmt.Errorf("%w: fork %q", forkjoin.ErrNodeNotFound, req.ForkNode)
	}
	start, ok := p.Node(req.StartNode)
	if !ok {
		return Signal{}, fmt.Errorf("%w: branch start %q", forkjoin.ErrNodeNotFound, req.StartNode)
	}
	join, arrivals, err := graph.Converge(p, node, g.lookahead)
	if err != nil {
		return Signal{}, err
	}
	cfg, err := fork.ParseConfig(node, ec.Flags())
	if err != nil {
		return Signal{}, err
	}
	cfg.Async = true

	f := &fork.Fork{
		ID:         req.ForkID,
		RunID:      ec.RunID(),
		Node:       node,
		Join:       join,
		Config:     cfg,
		Branches:   len(p.Outgoing(node)),
		Arrivals:   arrivals,
		CounterKey: counter.JoinKey(g.keyPrefix, ec.RunID().String(), node.ID),
		Started:    req.StartedAt,
	}
	t := &branchTask{
		branch: &fork.Branch{ID: id.NewBranchID(), Fork: f, Index: req.Index, Start: start, Pool: req.Pool},
		ec:     ec,
	}
	return g.runAsync(ctx, t)
}

// runAsync runs an async branch to the join and arrives at the counter.
// A failed branch does not arrive, so its fork never continues and the
// counter expires by TTL.
func (g *Gateway) runAsync(ctx context.Context, t *branchTask) (Signal, error) {
	f := t.branch.Fork
	bctx := ctx
	if f.Config.Timeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, f.Config.Timeout)
		defer cancel()
	}

	sig, err := g.runBranch(bctx, t)
	if err != nil && errors.Is(context.Cause(ctx), errRaceDecided) {
		g.logger.Debug("race already decided, branch canceled",
			slog.String("run_id", f.RunID.String()),
			slog.String("branch", t.branch.Name()),
		)
		sig.Pending = true
		return sig, nil
	}
	if err != nil {
		terr := asTimeout(ctx, bctx, f, err)
		if terr == nil {
			return sig, g.failAsync(ctx, f, t, err)
		}
		if !f.Config.SkipTimeoutException {
			g.emitter.EmitBranchFailed(ctx, t.branch, terr)
			g.emitter.EmitForkFailed(ctx, f, terr)
			return sig, terr
		}
		g.logger.Warn("async branch timed out, arriving at lookahead join",
			slog.String("run_id", f.RunID.String()),
			slog.String("branch", t.branch.Name()),
			slog.Duration("timeout", terr.Timeout),
		)
		sig.Join = f.Join
	}

	return g.arrive(context.WithoutCancel(ctx), sig)
}

// asTimeout reports err as a timeout when it is a branch deadline from the
// Timeout middleware or the fork-wide deadline on bctx. Cancellation of ctx
// itself is not a timeout.
func asTimeout(ctx, bctx context.Context, f *fork.Fork, err error) *forkjoin.TimeoutError {
	var terr *forkjoin.TimeoutError
	if errors.As(err, &terr) {
		return terr
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &forkjoin.TimeoutError{ForkID: f.Node.ID, Timeout: f.Config.Timeout, Pending: 1}
	}
	return nil
}

func (g *Gateway) failAsync(ctx context.Context, f *fork.Fork, t *branchTask, err error) error {
	application, err := g.process(ctx, t.branch, err)
	if application && f.Config.TraceOutput {
		g.emitter.EmitForkDegraded(ctx, f, []error{err})
	} else {
		g.emitter.EmitForkFailed(ctx, f, err)
	}
	return err
}

// arrive decrements the join counter for a branch that reached the join.
// Only the caller that observes zero resumes the flow.
func (g *Gateway) arrive(ctx context.Context, sig Signal) (Signal, error) {
	f := sig.Branch.Fork
	if sig.Join == nil {
		// Terminal branches never reach the join and do not count.
		return sig, nil
	}
	cnt := sig.Context.Counter()
	if cnt == nil {
		return sig, errors.New("gateway: async branch has no join counter")
	}

	n, err := cnt.DecrementAndGet(ctx, f.CounterKey)
	switch {
	case errors.Is(err, counter.ErrNotFound):
		// Finalized by another arrival, or expired.
		g.logger.Debug("join counter already finalized",
			slog.String("run_id", f.RunID.String()),
			slog.String("key", f.CounterKey),
			slog.String("branch", sig.Branch.Name()),
		)
		sig.Pending = true
		return sig, nil
	case err != nil:
		err = fmt.Errorf("gateway: decrement join counter %s: %w", f.CounterKey, err)
		g.emitter.EmitForkFailed(ctx, f, err)
		return sig, err
	case n != 0:
		sig.Pending = true
		return sig, nil
	}

	sig.Authoritative = true
	g.emitter.EmitForkCompleted(ctx, f, time.Since(f.Started))
	next, err := g.resumer.Resume(ctx, f, sig.Join, sig.Context)
	sig.Next = next
	if err != nil {
		g.logger.Error("continuation failed",
			slog.String("run_id", f.RunID.String()),
			slog.String("join", sig.Join.ID),
			slog.String("error", err.Error()),
		)
	}
	return sig, err
}
