package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/forkjoin/fork"
)

// Logging returns middleware that logs branch start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, b *fork.Branch, next Handler) error {
		logger.Debug("branch started",
			slog.String("run_id", b.Fork.RunID.String()),
			slog.String("fork", b.Fork.Node.ID),
			slog.String("branch", b.Start.ID),
			slog.String("pool", b.Pool),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("branch failed",
				slog.String("run_id", b.Fork.RunID.String()),
				slog.String("fork", b.Fork.Node.ID),
				slog.String("branch", b.Start.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("branch completed",
				slog.String("run_id", b.Fork.RunID.String()),
				slog.String("fork", b.Fork.Node.ID),
				slog.String("branch", b.Start.ID),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
