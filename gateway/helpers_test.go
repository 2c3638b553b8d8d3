package gateway_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/middleware"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/sequential"
	"github.com/xraph/forkjoin/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// branch describes one branch start node of the test flow. sleep and fail
// are read by the "work" activity. A terminal branch has no edge to the join.
type branch struct {
	id       string
	sleep    time.Duration
	fail     string
	pool     string
	timeout  time.Duration
	terminal bool
}

// harness is the flow begin -> split -> branches... -> merge -> after.
type harness struct {
	graph *graph.Graph
	exec  *sequential.Executor
	gw    *gateway.Gateway
	pools *worker.Registry
	cnt   *counter.Memory

	joins    atomic.Int32
	after    atomic.Int32
	canceled atomic.Int32

	mu       sync.Mutex
	finished []string
}

func newHarness(t *testing.T, forkCfg map[string]string, branches []branch, opts ...gateway.Option) *harness {
	t.Helper()

	b := graph.NewBuilder().
		Ordinary("begin").
		Fork("split", graph.WithConfigMap(forkCfg)).
		Join("merge", graph.WithActivity("join")).
		Ordinary("after", graph.WithActivity("after")).
		Edge("begin", "split").
		Edge("merge", "after")
	for _, br := range branches {
		cfg := map[string]string{"sleep_ms": strconv.Itoa(int(br.sleep / time.Millisecond))}
		if br.fail != "" {
			cfg["fail"] = br.fail
		}
		if br.pool != "" {
			cfg["pool"] = br.pool
		}
		if br.timeout > 0 {
			cfg[middleware.BranchTimeoutKey] = strconv.Itoa(int(br.timeout / time.Millisecond))
		}
		b.Ordinary(br.id, graph.WithActivity("work"), graph.WithConfigMap(cfg)).
			Edge("split", br.id)
		if !br.terminal {
			b.Edge(br.id, "merge")
		}
	}
	g, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	h := &harness{graph: g, cnt: counter.NewMemory()}

	def := worker.NewPool("default", discardLogger(), worker.WithPoolConcurrency(16))
	h.pools = worker.NewRegistry(def)
	if err := h.pools.Register(worker.NewPool("io", discardLogger(), worker.WithPoolConcurrency(4))); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.pools.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.pools.StopAll(ctx)
	})

	h.exec = sequential.New(sequential.WithLogger(discardLogger()))
	h.exec.Register("work", h.work)
	h.exec.Register("join", func(context.Context, *graph.Node, *runctx.Context) error {
		h.joins.Add(1)
		return nil
	})
	h.exec.Register("after", func(_ context.Context, _ *graph.Node, ec *runctx.Context) error {
		h.after.Add(1)
		ec.Set("after", true)
		return nil
	})

	h.gw = gateway.New(h.exec, append([]gateway.Option{gateway.WithLogger(discardLogger())}, opts...)...)
	h.exec.SetForker(h.gw)
	return h
}

func (h *harness) work(ctx context.Context, n *graph.Node, ec *runctx.Context) error {
	ms, _ := n.ConfigValue("sleep_ms")
	d, _ := strconv.Atoi(ms)
	select {
	case <-time.After(time.Duration(d) * time.Millisecond):
	case <-ctx.Done():
		h.canceled.Add(1)
		return ctx.Err()
	}
	if code, ok := n.ConfigValue("fail"); ok {
		if code == "unexpected" {
			return io.ErrUnexpectedEOF
		}
		return forkjoin.NewApplicationError(code, "branch "+n.ID+" rejected")
	}
	ec.Set("winner", n.ID)
	ec.Set(n.ID, true)
	h.mu.Lock()
	h.finished = append(h.finished, n.ID)
	h.mu.Unlock()
	return nil
}

func (h *harness) context(flags runctx.Flags) *runctx.Context {
	return runctx.New(id.NewRunID(),
		runctx.WithGraph(h.graph),
		runctx.WithPools(h.pools),
		runctx.WithCounter(h.cnt),
		runctx.WithFlags(flags),
	)
}

func (h *harness) node(t *testing.T, nodeID string) *graph.Node {
	t.Helper()
	n, ok := h.graph.Node(nodeID)
	if !ok {
		t.Fatalf("node %q not found", nodeID)
	}
	return n
}

func (h *harness) orchestrate(t *testing.T, ec *runctx.Context) (*gateway.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.gw.Orchestrate(ctx, h.node(t, "split"), ec)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
