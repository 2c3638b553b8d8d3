// Package middleware provides composable middleware around branch
// execution. Middleware wraps the call that walks a branch from its start
// node to the join and can observe or modify it (recover from panics,
// log, trace, record metrics, bound its duration).
package middleware

import (
	"context"

	"github.com/xraph/forkjoin/fork"
)

// Handler is the terminal function that walks the branch.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// branch being executed and the next handler to call. Middleware MUST call
// next to continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, b *fork.Branch, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, b *fork.Branch, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, b, prev)
			}
		}
		return h(ctx)
	}
}
