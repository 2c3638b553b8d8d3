package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type forkStartedEntry struct {
	name string
	hook ForkStarted
}

type forkCompletedEntry struct {
	name string
	hook ForkCompleted
}

type forkDegradedEntry struct {
	name string
	hook ForkDegraded
}

type forkFailedEntry struct {
	name string
	hook ForkFailed
}

type forkPendingEntry struct {
	name string
	hook ForkPending
}

type branchCompletedEntry struct {
	name string
	hook BranchCompleted
}

type branchFailedEntry struct {
	name string
	hook BranchFailed
}

type continuationResumedEntry struct {
	name string
	hook ContinuationResumed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Extensions are type-cached at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register all extensions before the first fork runs; emit methods may be
// called concurrently from branch goroutines.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	forkStarted         []forkStartedEntry
	forkCompleted       []forkCompletedEntry
	forkDegraded        []forkDegradedEntry
	forkFailed          []forkFailedEntry
	forkPending         []forkPendingEntry
	branchCompleted     []branchCompletedEntry
	branchFailed        []branchFailedEntry
	continuationResumed []continuationResumedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches it for every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ForkStarted); ok {
		r.forkStarted = append(r.forkStarted, forkStartedEntry{name, h})
	}
	if h, ok := e.(ForkCompleted); ok {
		r.forkCompleted = append(r.forkCompleted, forkCompletedEntry{name, h})
	}
	if h, ok := e.(ForkDegraded); ok {
		r.forkDegraded = append(r.forkDegraded, forkDegradedEntry{name, h})
	}
	if h, ok := e.(ForkFailed); ok {
		r.forkFailed = append(r.forkFailed, forkFailedEntry{name, h})
	}
	if h, ok := e.(ForkPending); ok {
		r.forkPending = append(r.forkPending, forkPendingEntry{name, h})
	}
	if h, ok := e.(BranchCompleted); ok {
		r.branchCompleted = append(r.branchCompleted, branchCompletedEntry{name, h})
	}
	if h, ok := e.(BranchFailed); ok {
		r.branchFailed = append(r.branchFailed, branchFailedEntry{name, h})
	}
	if h, ok := e.(ContinuationResumed); ok {
		r.continuationResumed = append(r.continuationResumed, continuationResumedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Fork event emitters
// ──────────────────────────────────────────────────

// EmitForkStarted notifies all extensions that implement ForkStarted.
func (r *Registry) EmitForkStarted(ctx context.Context, f *fork.Fork) {
	for _, e := range r.forkStarted {
		if err := e.hook.OnForkStarted(ctx, f); err != nil {
			r.logHookError("OnForkStarted", e.name, err)
		}
	}
}

// EmitForkCompleted notifies all extensions that implement ForkCompleted.
func (r *Registry) EmitForkCompleted(ctx context.Context, f *fork.Fork, elapsed time.Duration) {
	for _, e := range r.forkCompleted {
		if err := e.hook.OnForkCompleted(ctx, f, elapsed); err != nil {
			r.logHookError("OnForkCompleted", e.name, err)
		}
	}
}

// EmitForkDegraded notifies all extensions that implement ForkDegraded.
func (r *Registry) EmitForkDegraded(ctx context.Context, f *fork.Fork, errs []error) {
	for _, e := range r.forkDegraded {
		if err := e.hook.OnForkDegraded(ctx, f, errs); err != nil {
			r.logHookError("OnForkDegraded", e.name, err)
		}
	}
}

// EmitForkFailed notifies all extensions that implement ForkFailed.
func (r *Registry) EmitForkFailed(ctx context.Context, f *fork.Fork, forkErr error) {
	for _, e := range r.forkFailed {
		if err := e.hook.OnForkFailed(ctx, f, forkErr); err != nil {
			r.logHookError("OnForkFailed", e.name, err)
		}
	}
}

// EmitForkPending notifies all extensions that implement ForkPending.
func (r *Registry) EmitForkPending(ctx context.Context, f *fork.Fork) {
	for _, e := range r.forkPending {
		if err := e.hook.OnForkPending(ctx, f); err != nil {
			r.logHookError("OnForkPending", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Branch and continuation emitters
// ──────────────────────────────────────────────────

// EmitBranchCompleted notifies all extensions that implement BranchCompleted.
func (r *Registry) EmitBranchCompleted(ctx context.Context, b *fork.Branch, join *graph.Node, elapsed time.Duration) {
	for _, e := range r.branchCompleted {
		if err := e.hook.OnBranchCompleted(ctx, b, join, elapsed); err != nil {
			r.logHookError("OnBranchCompleted", e.name, err)
		}
	}
}

// EmitBranchFailed notifies all extensions that implement BranchFailed.
func (r *Registry) EmitBranchFailed(ctx context.Context, b *fork.Branch, branchErr error) {
	for _, e := range r.branchFailed {
		if err := e.hook.OnBranchFailed(ctx, b, branchErr); err != nil {
			r.logHookError("OnBranchFailed", e.name, err)
		}
	}
}

// EmitContinuationResumed notifies all extensions that implement ContinuationResumed.
func (r *Registry) EmitContinuationResumed(ctx context.Context, f *fork.Fork, join *graph.Node) {
	for _, e := range r.continuationResumed {
		if err := e.hook.OnContinuationResumed(ctx, f, join); err != nil {
			r.logHookError("OnContinuationResumed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
