package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
)

// ExceptionProcessor receives every branch error before the gateway
// decides whether to propagate or swallow it. It returns the error the
// decision applies to; returning nil keeps the original error.
type ExceptionProcessor interface {
	Process(ctx context.Context, b *fork.Branch, err error) error
}

// ExceptionProcessorFunc adapts a function to ExceptionProcessor.
type ExceptionProcessorFunc func(ctx context.Context, b *fork.Branch, err error) error

// Process calls f.
func (f ExceptionProcessorFunc) Process(ctx context.Context, b *fork.Branch, err error) error {
	return f(ctx, b, err)
}

// LoggingProcessor logs application errors and passes every error through
// unchanged. Unexpected errors are logged by the gateway itself.
func LoggingProcessor(logger *slog.Logger) ExceptionProcessor {
	return ExceptionProcessorFunc(func(_ context.Context, b *fork.Branch, err error) error {
		var appErr *forkjoin.ApplicationError
		if errors.As(err, &appErr) {
			logger.Warn("branch application error",
				slog.String("run_id", b.Fork.RunID.String()),
				slog.String("branch", b.Name()),
				slog.String("code", appErr.Code),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
}

// process runs the exception processor and reports whether the resulting
// error is an application error.
func (g *Gateway) process(ctx context.Context, b *fork.Branch, err error) (bool, error) {
	if processed := g.processor.Process(ctx, b, err); processed != nil {
		err = processed
	}
	g.emitter.EmitBranchFailed(ctx, b, err)

	if forkjoin.IsApplicationError(err) {
		return true, err
	}
	g.logger.Error("unexpected branch error",
		slog.String("run_id", b.Fork.RunID.String()),
		slog.String("fork", b.Fork.Node.ID),
		slog.String("branch", b.Name()),
		slog.String("error", err.Error()),
	)
	return false, err
}
