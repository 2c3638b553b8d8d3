package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/engine"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// diamond builds start -> split -> {a, b} -> merge -> done.
func diamond(t *testing.T, forkCfg map[string]string, bOpts ...graph.NodeOption) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		Ordinary("start", graph.WithActivity("set")).
		Fork("split", graph.WithConfigMap(forkCfg)).
		Ordinary("a", graph.WithActivity("set")).
		Ordinary("b", append([]graph.NodeOption{graph.WithActivity("set")}, bOpts...)...).
		Join("merge", graph.WithActivity("merge")).
		Ordinary("done", graph.WithActivity("done")).
		Edge("start", "split").
		Edge("split", "a").Edge("split", "b").
		Edge("a", "merge").Edge("b", "merge").
		Edge("merge", "done").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

type activities struct {
	merges atomic.Int32
	dones  atomic.Int32
}

func (a *activities) options() []engine.Option {
	return []engine.Option{
		engine.WithLogger(discardLogger()),
		engine.WithActivity("set", func(_ context.Context, n *graph.Node, ec *runctx.Context) error {
			if code, ok := n.ConfigValue("fail"); ok {
				return forkjoin.NewApplicationError(code, "rejected")
			}
			ec.Set(n.ID, true)
			return nil
		}),
		engine.WithActivity("merge", func(context.Context, *graph.Node, *runctx.Context) error {
			a.merges.Add(1)
			return nil
		}),
		engine.WithActivity("done", func(_ context.Context, _ *graph.Node, ec *runctx.Context) error {
			a.dones.Add(1)
			ec.Set("done", true)
			return nil
		}),
	}
}

func newEngine(t *testing.T, acts *activities, opts ...engine.Option) *engine.Engine {
	t.Helper()
	eng, err := engine.New(append(acts.options(), opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng
}

func TestRun_Completes(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	res, err := eng.Run(context.Background(), diamond(t, nil), "start", map[string]any{"order": "o-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", res.Status)
	}
	if res.RunID.IsNil() {
		t.Error("expected a run ID")
	}
	for _, k := range []string{"order", "start", "done"} {
		if _, ok := res.Vars[k]; !ok {
			t.Errorf("missing var %q in %v", k, res.Vars)
		}
	}
	if acts.merges.Load() != 1 || acts.dones.Load() != 1 {
		t.Errorf("merges = %d dones = %d, want 1 and 1", acts.merges.Load(), acts.dones.Load())
	}
}

func TestRun_Degraded(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	g := diamond(t, map[string]string{fork.KeyTraceOutput: "true"}, graph.WithConfig("fail", "E_B"))
	res, err := eng.Run(context.Background(), g, "start", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != engine.StatusDegraded {
		t.Fatalf("status = %s, want degraded", res.Status)
	}
	if len(res.Errors) != 1 || !forkjoin.IsApplicationError(res.Errors[0]) {
		t.Errorf("errors = %v", res.Errors)
	}
	if acts.dones.Load() != 0 {
		t.Error("degraded run must not continue")
	}
}

func TestRun_ApplicationErrorFails(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	g := diamond(t, nil, graph.WithConfig("fail", "E_B"))
	_, err := eng.Run(context.Background(), g, "start", nil)
	if !forkjoin.IsApplicationError(err) {
		t.Fatalf("err = %v, want application error", err)
	}
}

func TestRun_TraceOutputFlag(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	g := diamond(t, nil, graph.WithConfig("fail", "E_B"))
	res, err := eng.Run(context.Background(), g, "start", nil,
		engine.WithFlags(runctx.Flags{TraceOutput: true}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != engine.StatusDegraded {
		t.Errorf("status = %s, want degraded", res.Status)
	}
}

func TestRun_AsyncLocal(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	res, err := eng.Run(context.Background(), diamond(t, map[string]string{fork.KeyAsync: "true"}), "start", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != engine.StatusPending {
		t.Fatalf("status = %s, want pending", res.Status)
	}
	deadline := time.Now().Add(2 * time.Second)
	for acts.dones.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if acts.dones.Load() != 1 || acts.merges.Load() != 1 {
		t.Errorf("merges = %d dones = %d, want 1 and 1", acts.merges.Load(), acts.dones.Load())
	}
}

// remote encodes branch requests as if they were shipped elsewhere.
type remote struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *remote) Launch(_ context.Context, _ *worker.Pool, req gateway.BranchRequest, _ worker.Task) error {
	data, err := gateway.MsgpackCodec{}.Encode(req)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
	return nil
}

func TestRun_AsyncAcrossEnginesWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := forkjoin.DefaultConfig()
	cfg.RedisAddr = mr.Addr()

	dispatcherActs, workerActs := &activities{}, &activities{}
	launcher := &remote{}
	dispatcher := newEngine(t, dispatcherActs, engine.WithConfig(cfg), engine.WithLauncher(launcher))
	// A second engine stands in for the invocations that run the branches.
	handler := newEngine(t, workerActs, engine.WithConfig(cfg))

	g := diamond(t, map[string]string{fork.KeyAsync: "true"})
	res, err := dispatcher.Run(context.Background(), g, "start", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != engine.StatusPending {
		t.Fatalf("status = %s, want pending", res.Status)
	}
	if len(launcher.frames) != 2 {
		t.Fatalf("launched %d branches, want 2", len(launcher.frames))
	}
	key := counter.JoinKey(cfg.KeyPrefix, res.RunID.String(), "split")
	if ttl := mr.TTL(key); ttl != cfg.CounterTTL {
		t.Errorf("join counter TTL = %v, want %v", ttl, cfg.CounterTTL)
	}

	var (
		wg            sync.WaitGroup
		authoritative atomic.Int32
	)
	for _, frame := range launcher.frames {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := gateway.MsgpackCodec{}.Decode(frame)
			if err != nil {
				t.Errorf("Decode: %v", err)
				return
			}
			sig, err := handler.HandleBranch(context.Background(), g, req)
			if err != nil {
				t.Errorf("HandleBranch: %v", err)
				return
			}
			if sig.Authoritative {
				authoritative.Add(1)
			}
		}()
	}
	wg.Wait()

	if authoritative.Load() != 1 {
		t.Errorf("%d authoritative branches, want 1", authoritative.Load())
	}
	if workerActs.dones.Load() != 1 || dispatcherActs.dones.Load() != 0 {
		t.Errorf("continuations: handler %d dispatcher %d, want 1 and 0",
			workerActs.dones.Load(), dispatcherActs.dones.Load())
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("join counter keys left behind: %v", keys)
	}
}

func TestRun_RejectsInvalidGraph(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	g, err := graph.NewBuilder().
		Ordinary("start").Fork("split").Ordinary("only").
		Edge("start", "split").Edge("split", "only").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = eng.Run(context.Background(), g, "start", nil)
	if !errors.Is(err, forkjoin.ErrTopology) {
		t.Errorf("err = %v, want ErrTopology", err)
	}
}

func TestRun_UnknownStart(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)

	_, err := eng.Run(context.Background(), diamond(t, nil), "nope", nil)
	if !errors.Is(err, forkjoin.ErrNodeNotFound) {
		t.Errorf("err = %v, want ErrNodeNotFound", err)
	}
}

func TestRun_NotStarted(t *testing.T) {
	acts := &activities{}
	eng, err := engine.New(acts.options()...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = eng.Run(context.Background(), diamond(t, nil), "start", nil)
	if !errors.Is(err, forkjoin.ErrNotStarted) {
		t.Errorf("err = %v, want ErrNotStarted", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := forkjoin.DefaultConfig()
	cfg.Pools = []forkjoin.PoolConfig{{Name: "io", Concurrency: 0}}
	if _, err := engine.New(engine.WithConfig(cfg)); !errors.Is(err, forkjoin.ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_NamedPools(t *testing.T) {
	cfg := forkjoin.DefaultConfig()
	cfg.Pools = []forkjoin.PoolConfig{{Name: "io", Concurrency: 2, RateLimit: 100, RateBurst: 10}}
	eng, err := engine.New(engine.WithConfig(cfg), engine.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, ok := eng.Pools().NamedPool("io")
	if !ok || p.Concurrency() != 2 {
		t.Errorf("pool io = %v (found %v)", p, ok)
	}
	if eng.Pools().DefaultPool().Concurrency() != cfg.DefaultConcurrency {
		t.Errorf("default concurrency = %d", eng.Pools().DefaultPool().Concurrency())
	}
}

func TestRunAll(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts)
	g := diamond(t, nil)

	specs := make([]engine.RunSpec, 5)
	for i := range specs {
		specs[i] = engine.RunSpec{Graph: g, Start: "start", Vars: map[string]any{"i": i}}
	}
	results, err := eng.RunAll(context.Background(), specs...)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	for i, r := range results {
		if r == nil || r.Status != engine.StatusCompleted {
			t.Fatalf("result %d = %+v", i, r)
		}
		if r.Vars["i"] != i {
			t.Errorf("result %d vars[i] = %v", i, r.Vars["i"])
		}
	}
	if acts.dones.Load() != 5 {
		t.Errorf("dones = %d, want 5", acts.dones.Load())
	}
}

func TestRun_RecoversBranchPanic(t *testing.T) {
	acts := &activities{}
	eng := newEngine(t, acts, engine.WithActivity("panic", func(context.Context, *graph.Node, *runctx.Context) error {
		panic("boom")
	}))

	g := diamond(t, nil, graph.WithActivity("panic"))
	_, err := eng.Run(context.Background(), g, "start", nil)
	if err == nil || forkjoin.IsApplicationError(err) {
		t.Fatalf("err = %v, want an unexpected error from the recovered panic", err)
	}
}

func TestRun_TracerProvider(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	acts := &activities{}
	eng := newEngine(t, acts, engine.WithTracerProvider(tp))

	if _, err := eng.Run(context.Background(), diamond(t, nil), "start", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	if names["forkjoin.fork.orchestrate"] != 1 || names["forkjoin.branch.execute"] != 2 {
		t.Errorf("spans = %v", names)
	}
}

type shutdownExt struct{ called atomic.Bool }

func (e *shutdownExt) Name() string { return "shutdown-watch" }

func (e *shutdownExt) OnShutdown(context.Context) error {
	e.called.Store(true)
	return nil
}

func TestStop_EmitsShutdown(t *testing.T) {
	watch := &shutdownExt{}
	acts := &activities{}
	eng, err := engine.New(append(acts.options(), engine.WithExtension(watch))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !watch.called.Load() {
		t.Error("shutdown hook not called")
	}
}
