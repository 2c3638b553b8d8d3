package counter_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/forkjoin/backoff"
	"github.com/xraph/forkjoin/counter"
)

func TestMemory_DecrementAndGet(t *testing.T) {
	ctx := context.Background()
	m := counter.NewMemory()

	if err := m.Reset(ctx, "k", 2, 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v, err := m.DecrementAndGet(ctx, "k"); err != nil || v != 1 {
		t.Fatalf("first decrement = %d, %v; want 1, nil", v, err)
	}
	if v, err := m.DecrementAndGet(ctx, "k"); err != nil || v != 0 {
		t.Fatalf("second decrement = %d, %v; want 0, nil", v, err)
	}
}

func TestMemory_MissingKey(t *testing.T) {
	m := counter.NewMemory()
	_, err := m.DecrementAndGet(context.Background(), "missing")
	if !errors.Is(err, counter.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("decrement must not create the key")
	}
}

// Exactly one of N concurrent decrements on a counter of N observes zero.
func TestMemory_ConcurrentExactlyOneZero(t *testing.T) {
	for _, n := range []int{1, 2, 3, 8, 64, 257} {
		ctx := context.Background()
		m := counter.NewMemory()
		if err := m.Reset(ctx, "k", int64(n), 0); err != nil {
			t.Fatalf("Reset: %v", err)
		}

		var zeros atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				v, err := m.DecrementAndGet(ctx, "k")
				if err != nil {
					t.Errorf("DecrementAndGet: %v", err)
					return
				}
				if v == 0 {
					zeros.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := zeros.Load(); got != 1 {
			t.Errorf("n=%d: %d decrements observed zero, want 1", n, got)
		}
	}
}

func TestMemory_Expire(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := counter.NewMemory(counter.WithClock(func() time.Time { return now }))

	_ = m.Reset(ctx, "a", 3, time.Minute)
	_ = m.Reset(ctx, "b", 3, 0)
	_ = m.Reset(ctx, "c", 3, 0)
	_ = m.Expire(ctx, "c", time.Minute)

	now = now.Add(2 * time.Minute)
	for _, key := range []string{"a", "c"} {
		if _, err := m.DecrementAndGet(ctx, key); !errors.Is(err, counter.ErrNotFound) {
			t.Fatalf("%s: expected expired key, got %v", key, err)
		}
	}
	if v, err := m.DecrementAndGet(ctx, "b"); err != nil || v != 2 {
		t.Fatalf("b = %d, %v; want 2, nil", v, err)
	}
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := counter.NewMemory(counter.WithClock(func() time.Time { return now }))

	_ = m.Reset(ctx, "a", 1, time.Second)
	_ = m.Reset(ctx, "b", 1, 0)

	now = now.Add(time.Hour)
	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, ok := m.Get("b"); !ok {
		t.Error("key without TTL was swept")
	}
}

func TestJoinKey(t *testing.T) {
	if got := counter.JoinKey("", "run_1", "split"); got != "forkjoin:join:run_1:split" {
		t.Errorf("JoinKey = %q", got)
	}
	if got := counter.JoinKey("app:", "run_1", "split"); got != "app:join:run_1:split" {
		t.Errorf("JoinKey = %q", got)
	}
}

// flaky fails the first n calls of every idempotent operation.
type flaky struct {
	counter.Counter
	failures   int
	calls      atomic.Int64
	decrements atomic.Int64
}

func (f *flaky) Reset(ctx context.Context, key string, n int64, ttl time.Duration) error {
	if f.calls.Add(1) <= int64(f.failures) {
		return errors.New("connection reset")
	}
	return f.Counter.Reset(ctx, key, n, ttl)
}

func (f *flaky) DecrementAndGet(ctx context.Context, key string) (int64, error) {
	f.decrements.Add(1)
	return 0, errors.New("connection reset")
}

func TestRetrying_RetriesIdempotentOps(t *testing.T) {
	ctx := context.Background()
	inner := counter.NewMemory()
	f := &flaky{Counter: inner, failures: 2}
	r := counter.NewRetrying(f, backoff.NewConstant(time.Millisecond), 3)

	if err := r.Reset(ctx, "k", 5, time.Minute); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if v, _ := inner.Get("k"); v != 5 {
		t.Errorf("k = %d, want 5", v)
	}
	if got := f.calls.Load(); got != 3 {
		t.Errorf("Reset called %d times, want 3", got)
	}
}

func TestRetrying_GivesUp(t *testing.T) {
	f := &flaky{Counter: counter.NewMemory(), failures: 10}
	r := counter.NewRetrying(f, backoff.NewConstant(time.Millisecond), 2)

	if err := r.Reset(context.Background(), "k", 1, time.Minute); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
}

func TestRetrying_NeverRetriesDecrement(t *testing.T) {
	f := &flaky{Counter: counter.NewMemory()}
	r := counter.NewRetrying(f, backoff.NewConstant(time.Millisecond), 5)

	if _, err := r.DecrementAndGet(context.Background(), "k"); err == nil {
		t.Fatal("expected error")
	}
	if got := f.decrements.Load(); got != 1 {
		t.Errorf("DecrementAndGet called %d times, want 1", got)
	}
}
