package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/middleware"
	"github.com/xraph/forkjoin/runctx"
)

const tracerName = "github.com/xraph/forkjoin/gateway"

// Sequential is the graph walker branches and continuations delegate to.
type Sequential interface {
	// Enter executes node and its successors until it reaches a Join
	// (returned, not executed) or a terminal node (nil).
	Enter(ctx context.Context, node *graph.Node, ec *runctx.Context) (*graph.Node, error)
	// Execute runs the activity of a single node.
	Execute(ctx context.Context, node *graph.Node, ec *runctx.Context) error
}

// Emitter receives fork lifecycle events. *ext.Registry implements it.
type Emitter interface {
	EmitForkStarted(ctx context.Context, f *fork.Fork)
	EmitForkCompleted(ctx context.Context, f *fork.Fork, elapsed time.Duration)
	EmitForkDegraded(ctx context.Context, f *fork.Fork, errs []error)
	EmitForkFailed(ctx context.Context, f *fork.Fork, err error)
	EmitForkPending(ctx context.Context, f *fork.Fork)
	EmitBranchCompleted(ctx context.Context, b *fork.Branch, join *graph.Node, elapsed time.Duration)
	EmitBranchFailed(ctx context.Context, b *fork.Branch, err error)
	EmitContinuationResumed(ctx context.Context, f *fork.Fork, join *graph.Node)
}

// Compile-time interface check.
var _ Emitter = (*ext.Registry)(nil)

// Gateway orchestrates fork nodes. It is safe for concurrent use and
// holds no per-run state.
type Gateway struct {
	seq       Sequential
	resumer   *Resumer
	processor ExceptionProcessor
	emitter   Emitter
	launcher  Launcher
	mw        middleware.Middleware
	tracer    trace.Tracer
	logger    *slog.Logger

	lookahead int
	ttl       time.Duration
	keyPrefix string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithEmitter sets the lifecycle event sink, normally an *ext.Registry.
func WithEmitter(e Emitter) Option {
	return func(g *Gateway) { g.emitter = e }
}

// WithExceptionProcessor sets the processor every branch error passes through.
func WithExceptionProcessor(p ExceptionProcessor) Option {
	return func(g *Gateway) { g.processor = p }
}

// WithLauncher sets how async branches are launched.
func WithLauncher(l Launcher) Option {
	return func(g *Gateway) { g.launcher = l }
}

// WithMiddleware wraps every branch in the given middleware chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(g *Gateway) { g.mw = middleware.Chain(mws...) }
}

// WithTracer sets the tracer used for the orchestration span.
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithLookaheadDepth bounds the join search.
func WithLookaheadDepth(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.lookahead = n
		}
	}
}

// WithCounterTTL sets the TTL of async join counters.
func WithCounterTTL(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.ttl = d
		}
	}
}

// WithKeyPrefix sets the join counter key prefix.
func WithKeyPrefix(p string) Option {
	return func(g *Gateway) { g.keyPrefix = p }
}

// New creates a Gateway delegating node execution to seq.
func New(seq Sequential, opts ...Option) *Gateway {
	g := &Gateway{
		seq:       seq,
		launcher:  LocalLauncher{},
		mw:        middleware.Chain(),
		tracer:    otel.Tracer(tracerName),
		logger:    slog.Default(),
		lookahead: graph.DefaultLookaheadDepth,
		ttl:       time.Hour,
		keyPrefix: counter.DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.emitter == nil {
		g.emitter = ext.NewRegistry(g.logger)
	}
	if g.processor == nil {
		g.processor = LoggingProcessor(g.logger)
	}
	g.resumer = &Resumer{seq: seq, emitter: g.emitter, logger: g.logger}
	return g
}

// Resumer returns the gateway's continuation resumer.
func (g *Gateway) Resumer() *Resumer { return g.resumer }
