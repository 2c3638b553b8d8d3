// Package counter defines the join counter that lets fork branches complete
// in separate process invocations. A fork seeds the counter with its branch
// count; every branch that reaches the join decrements it, and only the
// branch that observes exactly zero resumes the converged flow.
//
// Memory is an in-process implementation for synchronous and single-node
// use. The redis subpackage provides a networked implementation for async
// mode across processes.
package counter

import (
	"context"
	"time"

	"github.com/xraph/forkjoin"
)

// ErrNotFound is returned by DecrementAndGet when the key does not exist,
// either because it was never seeded, it expired, or it was already
// finalized and deleted.
var ErrNotFound = forkjoin.ErrCounterNotFound

// Counter is an atomic, expiring integer store. Implementations must be
// safe for concurrent use by multiple goroutines and, for networked
// backends, by multiple processes.
type Counter interface {
	// Reset sets key to n and its TTL in one step, replacing any previous
	// value. A non-positive ttl leaves the key without expiry.
	Reset(ctx context.Context, key string, n int64, ttl time.Duration) error

	// DecrementAndGet atomically decrements key and returns the new value.
	// It returns ErrNotFound if the key does not exist; it never creates it.
	DecrementAndGet(ctx context.Context, key string) (int64, error)

	// Expire bounds the lifetime of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
