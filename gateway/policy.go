package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
)

// collected is what a completion policy gathered before it returned.
type collected struct {
	// signals of completed branches, in completion order.
	signals []Signal
	// errs are application errors swallowed in trace-output mode.
	errs     []error
	timedOut bool
}

func (c *collected) clone() *collected {
	return &collected{
		signals:  append([]Signal(nil), c.signals...),
		errs:     append([]error(nil), c.errs...),
		timedOut: c.timedOut,
	}
}

// settle applies the propagate-or-swallow decision to a branch error.
// It returns nil when the error was swallowed into res.
func (g *Gateway) settle(ctx context.Context, f *fork.Fork, t *branchTask, err error, res *collected) error {
	// Siblings canceled because the fork already failed or was decided.
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	var terr *forkjoin.TimeoutError
	if errors.As(err, &terr) {
		g.emitter.EmitBranchFailed(ctx, t.branch, err)
		if !f.Config.SkipTimeoutException {
			return err
		}
		g.logger.Warn("branch timed out, continuing without it",
			slog.String("run_id", f.RunID.String()),
			slog.String("branch", t.branch.Name()),
			slog.Duration("timeout", terr.Timeout),
		)
		res.timedOut = true
		return nil
	}
	application, err := g.process(ctx, t.branch, err)
	if application && f.Config.TraceOutput {
		res.errs = append(res.errs, err)
		return nil
	}
	return err
}

func timer(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// waitAll waits for every branch. The first propagating error cancels the
// remaining branches through the errgroup context.
func (g *Gateway) waitAll(ctx context.Context, f *fork.Fork, tasks []*branchTask) (*collected, error) {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu  sync.Mutex
		res collected
	)
	eg, egctx := errgroup.WithContext(bctx)
	for _, t := range tasks {
		eg.Go(func() error {
			sig, err := g.submit(egctx, t)
			if err != nil {
				var swallowed collected
				err = g.settle(egctx, f, t, err, &swallowed)
				mu.Lock()
				res.errs = append(res.errs, swallowed.errs...)
				res.timedOut = res.timedOut || swallowed.timedOut
				mu.Unlock()
				return err
			}
			mu.Lock()
			res.signals = append(res.signals, sig)
			mu.Unlock()
			return nil
		})
	}

	wait := make(chan error, 1)
	go func() { wait <- eg.Wait() }()

	expired, stop := timer(f.Config.Timeout)
	defer stop()

	select {
	case err := <-wait:
		if err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		return res.clone(), nil

	case <-expired:
		cancel()
		mu.Lock()
		snap := res.clone()
		mu.Unlock()
		return g.timedOut(f, snap, len(tasks)-len(snap.signals)-len(snap.errs))

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// raceFirst continues with the first branch to complete and cancels the
// others. Failed branches drop out of the race.
func (g *Gateway) raceFirst(ctx context.Context, f *fork.Fork, tasks []*branchTask) (*collected, error) {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan taskResult, len(tasks))
	for _, t := range tasks {
		go func() {
			sig, err := g.submit(bctx, t)
			results <- taskResult{task: t, sig: sig, err: err}
		}()
	}

	expired, stop := timer(f.Config.Timeout)
	defer stop()

	var res collected
	for remaining := len(tasks); remaining > 0; {
		select {
		case r := <-results:
			remaining--
			if r.err == nil {
				res.signals = append(res.signals, r.sig)
				g.logger.Debug("race won",
					slog.String("run_id", f.RunID.String()),
					slog.String("fork", f.Node.ID),
					slog.String("branch", r.task.branch.Name()),
				)
				return &res, nil
			}
			if err := g.settle(bctx, f, r.task, r.err, &res); err != nil {
				return nil, err
			}

		case <-expired:
			cancel()
			return g.timedOut(f, &res, remaining)

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &res, nil
}

// timedOut applies the skip-timeout-exception rule after the wait elapsed.
func (g *Gateway) timedOut(f *fork.Fork, res *collected, pending int) (*collected, error) {
	if !f.Config.SkipTimeoutException {
		return nil, &forkjoin.TimeoutError{ForkID: f.Node.ID, Timeout: f.Config.Timeout, Pending: pending}
	}
	g.logger.Warn("fork timed out, continuing with completed branches",
		slog.String("run_id", f.RunID.String()),
		slog.String("fork", f.Node.ID),
		slog.Duration("timeout", f.Config.Timeout),
		slog.Int("completed", len(res.signals)),
		slog.Int("pending", pending),
	)
	res.timedOut = true
	return res, nil
}
