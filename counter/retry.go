package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/forkjoin/backoff"
)

// Compile-time interface check.
var _ Counter = (*Retrying)(nil)

// Retrying wraps a Counter and retries the idempotent operations (Reset,
// Expire, Delete) on transient failures. DecrementAndGet is never retried:
// a decrement whose reply was lost may already have been applied.
type Retrying struct {
	inner    Counter
	strategy backoff.Strategy
	attempts int
	logger   *slog.Logger
}

// RetryOption configures a Retrying counter.
type RetryOption func(*Retrying)

// WithRetryLogger sets the logger used to report retried failures.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = l }
}

// NewRetrying wraps inner. attempts is the total number of tries per call.
func NewRetrying(inner Counter, strategy backoff.Strategy, attempts int, opts ...RetryOption) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	r := &Retrying{inner: inner, strategy: strategy, attempts: attempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reset retries inner.Reset.
func (r *Retrying) Reset(ctx context.Context, key string, n int64, ttl time.Duration) error {
	return r.do(ctx, "reset", key, func() error { return r.inner.Reset(ctx, key, n, ttl) })
}

// DecrementAndGet calls inner.DecrementAndGet exactly once.
func (r *Retrying) DecrementAndGet(ctx context.Context, key string) (int64, error) {
	return r.inner.DecrementAndGet(ctx, key)
}

// Expire retries inner.Expire.
func (r *Retrying) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.do(ctx, "expire", key, func() error { return r.inner.Expire(ctx, key, ttl) })
}

// Delete retries inner.Delete.
func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func() error { return r.inner.Delete(ctx, key) })
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		delay := r.strategy.Delay(attempt)
		r.logger.Warn("join counter operation failed, retrying",
			slog.String("op", op),
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("counter %s %q after %d attempts: %w", op, key, r.attempts, err)
}
