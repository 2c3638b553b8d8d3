package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/worker"
)

// Orchestrate runs the fork node with the caller's context ec.
//
// In synchronous mode it blocks until the completion policy is satisfied,
// runs the continuation from the join and returns StateResumed, or returns
// StateDegraded or an error. In async mode it seeds the join counter,
// launches the branches and returns StatePending.
func (g *Gateway) Orchestrate(ctx context.Context, node *graph.Node, ec *runctx.Context) (*Outcome, error) {
	f, tasks, err := g.prepare(node, ec)
	if err != nil {
		return nil, err
	}

	ctx, span := g.tracer.Start(ctx, "forkjoin.fork.orchestrate",
		trace.WithAttributes(
			attribute.String("forkjoin.run_id", f.RunID.String()),
			attribute.String("forkjoin.fork.id", f.ID.String()),
			attribute.String("forkjoin.fork.node", node.ID),
			attribute.String("forkjoin.join.node", f.Join.ID),
			attribute.String("forkjoin.policy", f.Config.Policy.String()),
			attribute.Int("forkjoin.branches", f.Branches),
			attribute.Bool("forkjoin.async", f.Config.Async),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	g.emitter.EmitForkStarted(ctx, f)
	g.logger.Debug("fork started",
		slog.String("run_id", f.RunID.String()),
		slog.String("fork", node.ID),
		slog.String("join", f.Join.ID),
		slog.String("policy", f.Config.Policy.String()),
		slog.Int("branches", f.Branches),
		slog.Bool("async", f.Config.Async),
	)

	var out *Outcome
	if f.Config.Async {
		out, err = g.dispatchAsync(ctx, f, tasks, ec)
	} else {
		out, err = g.dispatchSync(ctx, f, tasks, ec)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("forkjoin.outcome", out.State.String()))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Fork lets a sequential executor delegate fork nodes to the gateway. A
// resumed fork hands the authoritative branch state back to ec and returns
// where the continuation stopped. Degraded and pending forks end the
// caller's walk.
func (g *Gateway) Fork(ctx context.Context, node *graph.Node, ec *runctx.Context) (*graph.Node, error) {
	out, err := g.Orchestrate(ctx, node, ec)
	if err != nil {
		return nil, err
	}
	switch out.State {
	case StateResumed:
		ec.Adopt(out.Context)
		ec.RecordError(out.Errors...)
		return out.Next, nil
	case StateDegraded:
		ec.RecordError(out.Errors...)
		ec.MarkDegraded()
	}
	return nil, nil
}

// prepare validates the fork, resolves its join and builds one branch task
// per outgoing edge with an isolated child context.
func (g *Gateway) prepare(node *graph.Node, ec *runctx.Context) (*fork.Fork, []*branchTask, error) {
	if node.Kind != graph.KindFork {
		return nil, nil, &forkjoin.TopologyError{NodeID: node.ID, Reason: "not a fork node"}
	}
	p := ec.Graph()
	if p == nil {
		return nil, nil, errors.New("gateway: execution context has no graph")
	}
	if err := graph.ValidateNode(p, node); err != nil {
		return nil, nil, err
	}
	join, arrivals, err := graph.Converge(p, node, g.lookahead)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := fork.ParseConfig(node, ec.Flags())
	if err != nil {
		return nil, nil, err
	}

	edges := p.Outgoing(node)
	f := &fork.Fork{
		ID:         id.NewForkID(),
		RunID:      ec.RunID(),
		Node:       node,
		Join:       join,
		Config:     cfg,
		Branches:   len(edges),
		Arrivals:   arrivals,
		CounterKey: counter.JoinKey(g.keyPrefix, ec.RunID().String(), node.ID),
		Started:    time.Now(),
	}

	tasks := make([]*branchTask, 0, len(edges))
	for i, e := range edges {
		start, ok := p.Node(e.Target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q (branch %d of %q)", forkjoin.ErrNodeNotFound, e.Target, i, node.ID)
		}
		pool, err := g.resolvePool(ec, f, start)
		if err != nil {
			return nil, nil, err
		}

		child := ec.Fork()
		child.SetFlags(cfg.Flags())
		tasks = append(tasks, &branchTask{
			branch: &fork.Branch{
				ID:    id.NewBranchID(),
				Fork:  f,
				Index: i,
				Start: start,
				Pool:  pool.Name(),
			},
			ec:   child,
			pool: pool,
		})
	}
	return f, tasks, nil
}

// resolvePool picks the branch start node's pool, then the fork's pool,
// then the shared default.
func (g *Gateway) resolvePool(ec *runctx.Context, f *fork.Fork, start *graph.Node) (*worker.Pool, error) {
	reg := ec.Pools()
	if reg == nil {
		return nil, errors.New("gateway: execution context has no worker pools")
	}
	startPool, _ := start.ConfigValue(fork.KeyPool)
	for _, name := range []string{startPool, f.Config.Pool} {
		if name == "" {
			continue
		}
		if _, ok := reg.NamedPool(name); !ok {
			g.logger.Warn("worker pool not found, falling back",
				slog.String("fork", f.Node.ID),
				slog.String("branch", start.ID),
				slog.String("pool", name),
			)
		}
	}
	pool := reg.Resolve(startPool, f.Config.Pool)
	if pool == nil {
		return nil, fmt.Errorf("gateway: no worker pool for branch %q", start.ID)
	}
	return pool, nil
}

// dispatchSync blocks in the completion policy and then resumes.
func (g *Gateway) dispatchSync(ctx context.Context, f *fork.Fork, tasks []*branchTask, ec *runctx.Context) (*Outcome, error) {
	var (
		res *collected
		err error
	)
	switch f.Config.Policy {
	case fork.RaceFirst:
		res, err = g.raceFirst(ctx, f, tasks)
	default:
		res, err = g.waitAll(ctx, f, tasks)
	}
	if err != nil {
		g.emitter.EmitForkFailed(ctx, f, err)
		return nil, err
	}

	out := &Outcome{Fork: f, Branches: res.signals, Errors: res.errs, TimedOut: res.timedOut}

	// WaitAll degrades on any swallowed application error. RaceFirst only
	// degrades when no branch succeeded.
	if len(res.errs) > 0 && (f.Config.Policy == fork.WaitAll || (len(res.signals) == 0 && !res.timedOut)) {
		g.logger.Warn("fork degraded",
			slog.String("run_id", f.RunID.String()),
			slog.String("fork", f.Node.ID),
			slog.Int("errors", len(res.errs)),
		)
		g.emitter.EmitForkDegraded(ctx, f, res.errs)
		out.State = StateDegraded
		return out, nil
	}

	join, authoritative := f.Join, ec.Fork()
	if len(res.signals) > 0 {
		authoritative = res.signals[0].Context
		for _, s := range res.signals {
			if s.Join != nil {
				join = s.Join
				break
			}
		}
	}

	g.emitter.EmitForkCompleted(ctx, f, time.Since(f.Started))
	next, err := g.resumer.Resume(ctx, f, join, authoritative)
	if err != nil {
		return nil, err
	}

	out.State = StateResumed
	out.Join = join
	out.Next = next
	out.Context = authoritative
	return out, nil
}

// dispatchAsync seeds the join counter and launches every branch without
// waiting for them.
func (g *Gateway) dispatchAsync(ctx context.Context, f *fork.Fork, tasks []*branchTask, ec *runctx.Context) (*Outcome, error) {
	cnt := ec.Counter()
	if cnt == nil {
		err := errors.New("gateway: async fork requires a join counter")
		g.emitter.EmitForkFailed(ctx, f, err)
		return nil, err
	}

	if ec.InActiveFork() {
		g.logger.Debug("join counter already seeded for run",
			slog.String("run_id", f.RunID.String()),
			slog.String("key", f.CounterKey),
		)
	} else {
		// Only branches that reach the join decrement the counter.
		seed := int64(f.Arrivals)
		if f.Config.Policy == fork.RaceFirst {
			// The first arrival takes the count to zero; later ones find
			// the key gone.
			seed = 1
		}
		if err := g.seed(ctx, cnt, f.CounterKey, seed); err != nil {
			g.emitter.EmitForkFailed(ctx, f, err)
			return nil, err
		}
		ec.SetActiveFork(true)
	}

	// Branches outlive the dispatching call. A race shares one context so
	// the winner can cancel the losers that run in this process.
	launchCtx := context.WithoutCancel(ctx)
	finished := func(Signal) {}
	if f.Config.Policy == fork.RaceFirst {
		raceCtx, cancel := context.WithCancelCause(launchCtx)
		launchCtx = raceCtx
		var remaining atomic.Int32
		remaining.Store(int32(len(tasks)))
		finished = func(sig Signal) {
			if sig.Authoritative {
				cancel(errRaceDecided)
			}
			if remaining.Add(-1) == 0 {
				cancel(nil)
			}
		}
	}
	for _, t := range tasks {
		t.ec.SetActiveFork(true)
		req := newBranchRequest(t)
		err := g.launcher.Launch(launchCtx, t.pool, req, func(tctx context.Context) {
			sig, _ := g.runAsync(tctx, t)
			finished(sig)
		})
		if err != nil {
			err = fmt.Errorf("gateway: launch branch %s: %w", t.branch.Name(), err)
			g.emitter.EmitForkFailed(ctx, f, err)
			return nil, err
		}
	}

	g.emitter.EmitForkPending(ctx, f)
	return &Outcome{State: StatePending, Fork: f}, nil
}

func (g *Gateway) seed(ctx context.Context, cnt counter.Counter, key string, n int64) error {
	if err := cnt.Reset(ctx, key, n, g.ttl); err != nil {
		return fmt.Errorf("gateway: seed join counter %s: %w", key, err)
	}
	return nil
}
