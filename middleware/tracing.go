package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/forkjoin/fork"
)

// tracerName is the instrumentation scope name for forkjoin tracing.
const tracerName = "github.com/xraph/forkjoin"

// Tracing returns middleware that wraps branch execution in an
// OpenTelemetry span using the global TracerProvider. Without a configured
// provider the noop tracer makes it a pass-through.
//
// Span attributes: forkjoin.run_id, forkjoin.fork.id, forkjoin.fork.node,
// forkjoin.branch.id, forkjoin.branch.start, forkjoin.branch.index,
// forkjoin.pool, forkjoin.policy.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, b *fork.Branch, next Handler) error {
		ctx, span := tracer.Start(ctx, "forkjoin.branch.execute",
			trace.WithAttributes(
				attribute.String("forkjoin.run_id", b.Fork.RunID.String()),
				attribute.String("forkjoin.fork.id", b.Fork.ID.String()),
				attribute.String("forkjoin.fork.node", b.Fork.Node.ID),
				attribute.String("forkjoin.branch.id", b.ID.String()),
				attribute.String("forkjoin.branch.start", b.Start.ID),
				attribute.Int("forkjoin.branch.index", b.Index),
				attribute.String("forkjoin.pool", b.Pool),
				attribute.String("forkjoin.policy", b.Fork.Config.Policy.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
