package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/backoff"
	"github.com/xraph/forkjoin/counter"
	redcounter "github.com/xraph/forkjoin/counter/redis"
	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	mw "github.com/xraph/forkjoin/middleware"
	"github.com/xraph/forkjoin/observability"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/sequential"
	"github.com/xraph/forkjoin/worker"
)

const instrumentationName = "github.com/xraph/forkjoin"

// Engine runs graphs. Create one with New, then Start it before calling Run.
type Engine struct {
	cfg    forkjoin.Config
	logger *slog.Logger

	extensions *ext.Registry
	exec       *sequential.Executor
	gw         *gateway.Gateway
	pools      *worker.Registry
	counter    counter.Counter
	memory     *counter.Memory
	redis      goredis.UniversalClient
	ownsRedis  bool

	// Collected by options, applied by New.
	activities map[string]sequential.Activity
	exts       []ext.Extension
	mws        []mw.Middleware
	processor  gateway.ExceptionProcessor
	launcher   gateway.Launcher

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu        sync.Mutex
	started   bool
	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg forkjoin.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithActivity registers an activity with the sequential executor.
func WithActivity(name string, a sequential.Activity) Option {
	return func(eng *Engine) { eng.activities[name] = a }
}

// WithCounter sets the join counter, overriding Config.RedisAddr.
func WithCounter(c counter.Counter) Option {
	return func(eng *Engine) { eng.counter = c }
}

// WithRedis uses client for the join counter. The engine does not close it.
func WithRedis(client goredis.UniversalClient) Option {
	return func(eng *Engine) { eng.redis = client }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the branch chain, inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithExceptionProcessor sets the processor branch errors pass through.
func WithExceptionProcessor(p gateway.ExceptionProcessor) Option {
	return func(eng *Engine) { eng.processor = p }
}

// WithLauncher sets how async branches are launched.
func WithLauncher(l gateway.Launcher) Option {
	return func(eng *Engine) { eng.launcher = l }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine. It does not start the worker pools.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:        forkjoin.DefaultConfig(),
		logger:     slog.Default(),
		activities: make(map[string]sequential.Activity),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}
	logger := eng.logger

	if err := eng.buildPools(); err != nil {
		return nil, err
	}
	eng.buildCounter()

	eng.extensions = ext.NewRegistry(logger)
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Build tracing and metrics middleware (custom provider or global).
	tracingMw, metricsMw := mw.Tracing(), mw.Metrics()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}

	// Default stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)

	eng.exec = sequential.New(sequential.WithLogger(logger))
	for name, a := range eng.activities {
		eng.exec.Register(name, a)
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithEmitter(eng.extensions),
		gateway.WithMiddleware(allMws...),
		gateway.WithLookaheadDepth(eng.cfg.LookaheadDepth),
		gateway.WithCounterTTL(eng.cfg.CounterTTL),
		gateway.WithKeyPrefix(eng.cfg.KeyPrefix),
	}
	if eng.tracerProvider != nil {
		gwOpts = append(gwOpts, gateway.WithTracer(eng.tracerProvider.Tracer(instrumentationName)))
	}
	if eng.processor != nil {
		gwOpts = append(gwOpts, gateway.WithExceptionProcessor(eng.processor))
	}
	if eng.launcher != nil {
		gwOpts = append(gwOpts, gateway.WithLauncher(eng.launcher))
	}
	eng.gw = gateway.New(eng.exec, gwOpts...)
	eng.exec.SetForker(eng.gw)

	return eng, nil
}

func (eng *Engine) buildPools() error {
	def := worker.NewPool("default", eng.logger, worker.WithPoolConcurrency(eng.cfg.DefaultConcurrency))
	eng.pools = worker.NewRegistry(def)
	for _, pc := range eng.cfg.Pools {
		p := worker.NewPool(pc.Name, eng.logger,
			worker.WithPoolConcurrency(pc.Concurrency),
			worker.WithRateLimit(pc.RateLimit, pc.RateBurst),
		)
		if err := eng.pools.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// buildCounter picks the join counter: an explicit one, then Redis, then
// the in-process counter. Redis calls are retried with backoff.
func (eng *Engine) buildCounter() {
	if eng.counter != nil {
		return
	}
	if eng.redis == nil && eng.cfg.RedisAddr != "" {
		eng.redis = goredis.NewClient(&goredis.Options{Addr: eng.cfg.RedisAddr})
		eng.ownsRedis = true
	}
	if eng.redis != nil {
		eng.counter = counter.NewRetrying(
			redcounter.New(eng.redis, redcounter.WithLogger(eng.logger)),
			backoff.DefaultStrategy(), 3,
			counter.WithRetryLogger(eng.logger),
		)
		return
	}
	eng.memory = counter.NewMemory()
	eng.counter = eng.memory
}

// Start starts the worker pools. It is safe to call more than once.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}
	if err := eng.pools.StartAll(ctx); err != nil {
		return fmt.Errorf("start worker pools: %w", err)
	}
	if eng.memory != nil {
		eng.stopSweep = make(chan struct{})
		eng.sweepWG.Add(1)
		go eng.sweep(eng.stopSweep)
	}
	eng.started = true
	eng.logger.Info("forkjoin engine started",
		slog.Int("default_concurrency", eng.cfg.DefaultConcurrency),
		slog.Int("pools", len(eng.cfg.Pools)),
	)
	return nil
}

// sweep drops expired in-process join counters.
func (eng *Engine) sweep(stop <-chan struct{}) {
	defer eng.sweepWG.Done()
	interval := min(eng.cfg.CounterTTL, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := eng.memory.Sweep(); n > 0 {
				eng.logger.Debug("swept expired join counters", slog.Int("count", n))
			}
		}
	}
}

// Stop notifies extensions and drains the worker pools, waiting at most
// Config.ShutdownTimeout.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	eng.extensions.EmitShutdown(ctx)

	ctx, cancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
	defer cancel()
	err := eng.pools.StopAll(ctx)

	if eng.stopSweep != nil {
		close(eng.stopSweep)
		eng.sweepWG.Wait()
		eng.stopSweep = nil
	}
	if eng.ownsRedis {
		if cerr := eng.redis.Close(); cerr != nil {
			eng.logger.Warn("failed to close redis client", slog.String("error", cerr.Error()))
		}
		eng.ownsRedis = false
	}
	eng.started = false
	return err
}

func (eng *Engine) isStarted() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.started
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Gateway returns the parallel gateway.
func (eng *Engine) Gateway() *gateway.Gateway { return eng.gw }

// Executor returns the sequential executor.
func (eng *Engine) Executor() *sequential.Executor { return eng.exec }

// Pools returns the worker pool registry.
func (eng *Engine) Pools() *worker.Registry { return eng.pools }

// Counter returns the join counter.
func (eng *Engine) Counter() counter.Counter { return eng.counter }

// Config returns the engine configuration.
func (eng *Engine) Config() forkjoin.Config { return eng.cfg }

// Register binds an activity after construction.
func (eng *Engine) Register(name string, a sequential.Activity) {
	eng.exec.Register(name, a)
}

func (eng *Engine) contextOptions(g graph.Provider) []runctx.Option {
	return []runctx.Option{
		runctx.WithGraph(g),
		runctx.WithPools(eng.pools),
		runctx.WithCounter(eng.counter),
	}
}

// Run validates g and executes it from startID with the given variables.
// It blocks until the flow ends, degrades, fails or goes pending on an
// async fork.
func (eng *Engine) Run(ctx context.Context, g *graph.Graph, startID string, vars map[string]any, opts ...RunOption) (*Result, error) {
	if !eng.isStarted() {
		return nil, forkjoin.ErrNotStarted
	}
	if err := graph.Validate(g, eng.cfg.LookaheadDepth); err != nil {
		return nil, err
	}
	start, err := g.Lookup(startID)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	ro := runOptions{runID: id.NewRunID()}
	for _, opt := range opts {
		opt(&ro)
	}
	ecOpts := append(eng.contextOptions(g), runctx.WithVars(vars), runctx.WithFlags(ro.flags))
	ec := runctx.New(ro.runID, ecOpts...)

	begin := time.Now()
	eng.logger.Debug("run started",
		slog.String("run_id", ec.RunID().String()),
		slog.String("start", startID),
	)

	join, err := eng.exec.Enter(ctx, start, ec)
	if err != nil {
		eng.logger.Error("run failed",
			slog.String("run_id", ec.RunID().String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if join != nil {
		return nil, &forkjoin.TopologyError{NodeID: join.ID, Reason: "join reached outside of a fork"}
	}

	res := &Result{
		RunID:   ec.RunID(),
		Status:  StatusCompleted,
		Vars:    ec.Vars(),
		Errors:  ec.Errors(),
		Elapsed: time.Since(begin),
	}
	switch {
	case ec.InActiveFork():
		res.Status = StatusPending
	case ec.Degraded():
		res.Status = StatusDegraded
	}
	eng.logger.Debug("run finished",
		slog.String("run_id", res.RunID.String()),
		slog.String("status", res.Status.String()),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// RunAll executes several runs concurrently. It returns the results in
// input order and the first error, which cancels the remaining runs.
func (eng *Engine) RunAll(ctx context.Context, specs ...RunSpec) ([]*Result, error) {
	results := make([]*Result, len(specs))
	eg, egctx := errgroup.WithContext(ctx)
	for i, s := range specs {
		eg.Go(func() error {
			res, err := eng.Run(egctx, s.Graph, s.Start, s.Vars, s.Options...)
			if err != nil {
				return fmt.Errorf("run %d from %q: %w", i, s.Start, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// HandleBranch runs one async branch handed over from another invocation
// against g.
func (eng *Engine) HandleBranch(ctx context.Context, g graph.Provider, req gateway.BranchRequest) (gateway.Signal, error) {
	if !eng.isStarted() {
		return gateway.Signal{}, forkjoin.ErrNotStarted
	}
	if g == nil {
		return gateway.Signal{}, errors.New("engine: graph is required")
	}
	return eng.gw.HandleBranch(ctx, req, eng.contextOptions(g)...)
}
