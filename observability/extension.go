package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
)

const meterName = "github.com/xraph/forkjoin/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.ForkStarted         = (*MetricsExtension)(nil)
	_ ext.ForkCompleted       = (*MetricsExtension)(nil)
	_ ext.ForkDegraded        = (*MetricsExtension)(nil)
	_ ext.ForkFailed          = (*MetricsExtension)(nil)
	_ ext.ForkPending         = (*MetricsExtension)(nil)
	_ ext.BranchCompleted     = (*MetricsExtension)(nil)
	_ ext.BranchFailed        = (*MetricsExtension)(nil)
	_ ext.ContinuationResumed = (*MetricsExtension)(nil)
)

// MetricsExtension records fork lifecycle counters through an OpenTelemetry
// meter. Register it as an extension to track how many forks start,
// complete, degrade, fail or go pending, and how many continuations run.
type MetricsExtension struct {
	ForkStarted         metric.Int64Counter
	ForkCompleted       metric.Int64Counter
	ForkDegraded        metric.Int64Counter
	ForkFailed          metric.Int64Counter
	ForkPending         metric.Int64Counter
	BranchCompleted     metric.Int64Counter
	BranchFailed        metric.Int64Counter
	ContinuationResumed metric.Int64Counter
	ForkDuration        metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global meter provider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("forkjoin.fork.duration",
		metric.WithDescription("Time from fork start to its completion policy being satisfied"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		ForkStarted:         counter("forkjoin.fork.started", "Forks started"),
		ForkCompleted:       counter("forkjoin.fork.completed", "Forks whose completion policy was satisfied"),
		ForkDegraded:        counter("forkjoin.fork.degraded", "Forks ended by swallowed application errors"),
		ForkFailed:          counter("forkjoin.fork.failed", "Forks that returned an error"),
		ForkPending:         counter("forkjoin.fork.pending", "Async forks launched"),
		BranchCompleted:     counter("forkjoin.branch.completed", "Branches that reached their join or a terminal node"),
		BranchFailed:        counter("forkjoin.branch.failed", "Branches that failed"),
		ContinuationResumed: counter("forkjoin.continuation.resumed", "Continuations run from a join"),
		ForkDuration:        duration,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func forkAttrs(f *fork.Fork) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("fork", f.Node.ID),
		attribute.String("policy", f.Config.Policy.String()),
		attribute.Bool("async", f.Config.Async),
	)
}

// ── Fork lifecycle hooks ────────────────────────────

// OnForkStarted implements ext.ForkStarted.
func (m *MetricsExtension) OnForkStarted(ctx context.Context, f *fork.Fork) error {
	m.ForkStarted.Add(ctx, 1, forkAttrs(f))
	return nil
}

// OnForkCompleted implements ext.ForkCompleted.
func (m *MetricsExtension) OnForkCompleted(ctx context.Context, f *fork.Fork, elapsed time.Duration) error {
	attrs := forkAttrs(f)
	m.ForkCompleted.Add(ctx, 1, attrs)
	m.ForkDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnForkDegraded implements ext.ForkDegraded.
func (m *MetricsExtension) OnForkDegraded(ctx context.Context, f *fork.Fork, _ []error) error {
	m.ForkDegraded.Add(ctx, 1, forkAttrs(f))
	return nil
}

// OnForkFailed implements ext.ForkFailed.
func (m *MetricsExtension) OnForkFailed(ctx context.Context, f *fork.Fork, _ error) error {
	m.ForkFailed.Add(ctx, 1, forkAttrs(f))
	return nil
}

// OnForkPending implements ext.ForkPending.
func (m *MetricsExtension) OnForkPending(ctx context.Context, f *fork.Fork) error {
	m.ForkPending.Add(ctx, 1, forkAttrs(f))
	return nil
}

// ── Branch and continuation hooks ───────────────────

// OnBranchCompleted implements ext.BranchCompleted.
func (m *MetricsExtension) OnBranchCompleted(ctx context.Context, b *fork.Branch, _ *graph.Node, _ time.Duration) error {
	m.BranchCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fork", b.Fork.Node.ID),
		attribute.String("pool", b.Pool),
	))
	return nil
}

// OnBranchFailed implements ext.BranchFailed.
func (m *MetricsExtension) OnBranchFailed(ctx context.Context, b *fork.Branch, _ error) error {
	m.BranchFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("fork", b.Fork.Node.ID),
		attribute.String("pool", b.Pool),
	))
	return nil
}

// OnContinuationResumed implements ext.ContinuationResumed.
func (m *MetricsExtension) OnContinuationResumed(ctx context.Context, f *fork.Fork, _ *graph.Node) error {
	m.ContinuationResumed.Add(ctx, 1, forkAttrs(f))
	return nil
}
