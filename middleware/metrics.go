package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/fork"
)

// meterName is the instrumentation scope name for forkjoin metrics.
const meterName = "github.com/xraph/forkjoin"

// Metrics returns middleware that records per-branch metrics using the
// global MeterProvider.
//
// Instruments:
//   - forkjoin.branch.duration (Float64Histogram): branch time in seconds
//   - forkjoin.branch.executions (Int64Counter): executed branches
//
// Both carry the attributes fork, pool, policy and status, where status is
// "ok", "application_error" or "error".
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"forkjoin.branch.duration",
		metric.WithDescription("Duration of branch execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"forkjoin.branch.executions",
		metric.WithDescription("Total number of branch executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, b *fork.Branch, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		switch {
		case err == nil:
		case forkjoin.IsApplicationError(err):
			status = "application_error"
		default:
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("fork", b.Fork.Node.ID),
			attribute.String("pool", b.Pool),
			attribute.String("policy", b.Fork.Config.Policy.String()),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
