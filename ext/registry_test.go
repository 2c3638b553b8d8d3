package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	mu    sync.Mutex
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnForkStarted(context.Context, *fork.Fork) error {
	return e.record("OnForkStarted")
}

func (e *allHooksExt) OnForkCompleted(context.Context, *fork.Fork, time.Duration) error {
	return e.record("OnForkCompleted")
}

func (e *allHooksExt) OnForkDegraded(context.Context, *fork.Fork, []error) error {
	return e.record("OnForkDegraded")
}

func (e *allHooksExt) OnForkFailed(context.Context, *fork.Fork, error) error {
	return e.record("OnForkFailed")
}

func (e *allHooksExt) OnForkPending(context.Context, *fork.Fork) error {
	return e.record("OnForkPending")
}

func (e *allHooksExt) OnBranchCompleted(context.Context, *fork.Branch, *graph.Node, time.Duration) error {
	return e.record("OnBranchCompleted")
}

func (e *allHooksExt) OnBranchFailed(context.Context, *fork.Branch, error) error {
	return e.record("OnBranchFailed")
}

func (e *allHooksExt) OnContinuationResumed(context.Context, *fork.Fork, *graph.Node) error {
	return e.record("OnContinuationResumed")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// degradedOnlyExt implements only ForkDegraded.
type degradedOnlyExt struct {
	errs []error
}

func (e *degradedOnlyExt) Name() string { return "degraded-only" }

func (e *degradedOnlyExt) OnForkDegraded(_ context.Context, _ *fork.Fork, errs []error) error {
	e.errs = errs
	return nil
}

// failingExt returns errors from its hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnForkStarted(context.Context, *fork.Fork) error {
	return errors.New("hook exploded")
}

func testFork() (*fork.Fork, *fork.Branch) {
	split := &graph.Node{ID: "split", Kind: graph.KindFork}
	merge := &graph.Node{ID: "merge", Kind: graph.KindJoin}
	f := &fork.Fork{ID: id.NewForkID(), RunID: id.NewRunID(), Node: split, Join: merge, Branches: 2}
	b := &fork.Branch{ID: id.NewBranchID(), Fork: f, Start: &graph.Node{ID: "a"}}
	return f, b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	r.Register(&allHooksExt{})
	r.Register(&degradedOnlyExt{})

	if got := len(r.Extensions()); got != 2 {
		t.Fatalf("expected 2 extensions, got %d", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	deg := &degradedOnlyExt{}
	r.Register(deg)

	f, _ := testFork()
	ctx := context.Background()

	r.EmitForkStarted(ctx, f)
	r.EmitForkPending(ctx, f)
	if deg.errs != nil {
		t.Fatal("degraded hook fired for unrelated event")
	}

	want := []error{errors.New("c failed")}
	r.EmitForkDegraded(ctx, f, want)
	if len(deg.errs) != 1 || deg.errs[0] != want[0] {
		t.Fatalf("degraded errs = %v, want %v", deg.errs, want)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}
	r.Register(all)

	f, b := testFork()
	ctx := context.Background()

	r.EmitForkStarted(ctx, f)
	r.EmitBranchCompleted(ctx, b, f.Join, time.Millisecond)
	r.EmitBranchFailed(ctx, b, errors.New("x"))
	r.EmitForkCompleted(ctx, f, time.Millisecond)
	r.EmitContinuationResumed(ctx, f, f.Join)
	r.EmitForkDegraded(ctx, f, nil)
	r.EmitForkFailed(ctx, f, errors.New("x"))
	r.EmitForkPending(ctx, f)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnForkStarted", "OnBranchCompleted", "OnBranchFailed", "OnForkCompleted",
		"OnContinuationResumed", "OnForkDegraded", "OnForkFailed", "OnForkPending",
		"OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	f, _ := testFork()
	r.EmitForkStarted(context.Background(), f)

	if len(all.calls) != 1 || all.calls[0] != "OnForkStarted" {
		t.Fatalf("expected [OnForkStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	f, b := testFork()
	ctx := context.Background()

	r.EmitForkStarted(ctx, f)
	r.EmitBranchCompleted(ctx, b, nil, 0)
	r.EmitContinuationResumed(ctx, f, f.Join)
	r.EmitShutdown(ctx)
}

func TestRegistry_ConcurrentEmit(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}
	r.Register(all)

	f, b := testFork()
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.EmitBranchCompleted(context.Background(), b, f.Join, time.Millisecond)
		}()
	}
	wg.Wait()

	if len(all.calls) != 16 {
		t.Errorf("expected 16 calls, got %d", len(all.calls))
	}
}
