package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
)

// BranchTimeoutKey is the start-node config key holding a per-branch
// deadline in milliseconds.
const BranchTimeoutKey = "branch_timeout"

// Timeout returns middleware that bounds a single branch. The deadline is
// read from the branch start node's "branch_timeout" key; branches without
// it run under the fork's own timeout only. The branch observes the
// deadline at its next node boundary. An elapsed branch deadline is
// reported as a *forkjoin.TimeoutError naming the branch.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *fork.Branch, next Handler) error {
		v, ok := b.Start.ConfigValue(BranchTimeoutKey)
		if !ok {
			return next(ctx)
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			logger.Warn("ignoring invalid branch timeout",
				slog.String("branch", b.Name()),
				slog.String("value", v),
			)
			return next(ctx)
		}

		d := time.Duration(ms) * time.Millisecond
		logger.Debug("branch timeout set",
			slog.String("branch", b.Name()),
			slog.Duration("timeout", d),
		)
		bctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		err = next(bctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) &&
			errors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &forkjoin.TimeoutError{ForkID: b.Fork.Node.ID, Branch: b.Name(), Timeout: d, Pending: 1}
		}
		return err
	}
}
