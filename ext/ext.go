// Package ext defines the extension system for forkjoin.
// Extensions are notified of fork lifecycle events (fork started, branch
// completed, fork degraded, continuation resumed, etc.) and can react to
// them with logging, metrics, auditing and so on.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Fork lifecycle hooks
// ──────────────────────────────────────────────────

// ForkStarted is called once the fork's branches have been built and
// before any is submitted.
type ForkStarted interface {
	OnForkStarted(ctx context.Context, f *fork.Fork) error
}

// ForkCompleted is called when the completion policy is satisfied and the
// continuation is about to run.
type ForkCompleted interface {
	OnForkCompleted(ctx context.Context, f *fork.Fork, elapsed time.Duration) error
}

// ForkDegraded is called when application errors end a trace-output fork
// without a continuation.
type ForkDegraded interface {
	OnForkDegraded(ctx context.Context, f *fork.Fork, errs []error) error
}

// ForkFailed is called when a fork returns an error to its caller.
type ForkFailed interface {
	OnForkFailed(ctx context.Context, f *fork.Fork, err error) error
}

// ForkPending is called when an async fork returns before its branches
// have finished.
type ForkPending interface {
	OnForkPending(ctx context.Context, f *fork.Fork) error
}

// ──────────────────────────────────────────────────
// Branch and continuation hooks
// ──────────────────────────────────────────────────

// BranchCompleted is called when a branch reaches its join or a terminal
// node. join is nil for a terminal node.
type BranchCompleted interface {
	OnBranchCompleted(ctx context.Context, b *fork.Branch, join *graph.Node, elapsed time.Duration) error
}

// BranchFailed is called with the error a branch ended with, after the
// exception processor has seen it.
type BranchFailed interface {
	OnBranchFailed(ctx context.Context, b *fork.Branch, err error) error
}

// ContinuationResumed is called exactly once per fork instance when
// sequential execution resumes from the join node.
type ContinuationResumed interface {
	OnContinuationResumed(ctx context.Context, f *fork.Fork, join *graph.Node) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
