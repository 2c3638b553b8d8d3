package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/forkjoin/fork"
)

// Recover returns middleware that recovers from panics in the branch.
// A panic becomes an unexpected error and is logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *fork.Branch, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("branch panicked",
					slog.String("run_id", b.Fork.RunID.String()),
					slog.String("branch", b.Name()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in branch %s: %v", b.Name(), r)
			}
		}()
		return next(ctx)
	}
}
