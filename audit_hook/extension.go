package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.ForkStarted         = (*Extension)(nil)
	_ ext.ForkCompleted       = (*Extension)(nil)
	_ ext.ForkDegraded        = (*Extension)(nil)
	_ ext.ForkFailed          = (*Extension)(nil)
	_ ext.ForkPending         = (*Extension)(nil)
	_ ext.BranchCompleted     = (*Extension)(nil)
	_ ext.BranchFailed        = (*Extension)(nil)
	_ ext.ContinuationResumed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	RunID      string         `json:"run_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// Extension bridges fork lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Fork lifecycle hooks ────────────────────────────

// OnForkStarted implements ext.ForkStarted.
func (e *Extension) OnForkStarted(ctx context.Context, f *fork.Fork) error {
	return e.recordFork(ctx, ActionForkStarted, SeverityInfo, OutcomeSuccess, f, nil,
		"branches", f.Branches,
		"async", f.Config.Async,
	)
}

// OnForkCompleted implements ext.ForkCompleted.
func (e *Extension) OnForkCompleted(ctx context.Context, f *fork.Fork, elapsed time.Duration) error {
	return e.recordFork(ctx, ActionForkCompleted, SeverityInfo, OutcomeSuccess, f, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnForkDegraded implements ext.ForkDegraded.
func (e *Extension) OnForkDegraded(ctx context.Context, f *fork.Fork, errs []error) error {
	reasons := make([]string, len(errs))
	for i, err := range errs {
		reasons[i] = err.Error()
	}
	return e.recordFork(ctx, ActionForkDegraded, SeverityWarning, OutcomeFailure, f, nil,
		"errors", reasons,
	)
}

// OnForkFailed implements ext.ForkFailed.
func (e *Extension) OnForkFailed(ctx context.Context, f *fork.Fork, forkErr error) error {
	return e.recordFork(ctx, ActionForkFailed, SeverityCritical, OutcomeFailure, f, forkErr)
}

// OnForkPending implements ext.ForkPending.
func (e *Extension) OnForkPending(ctx context.Context, f *fork.Fork) error {
	return e.recordFork(ctx, ActionForkPending, SeverityInfo, OutcomePending, f, nil,
		"counter_key", f.CounterKey,
	)
}

// ── Branch and continuation hooks ───────────────────

// OnBranchCompleted implements ext.BranchCompleted.
func (e *Extension) OnBranchCompleted(ctx context.Context, b *fork.Branch, join *graph.Node, elapsed time.Duration) error {
	reached := ""
	if join != nil {
		reached = join.ID
	}
	return e.recordBranch(ctx, ActionBranchCompleted, SeverityInfo, OutcomeSuccess, b, nil,
		"reached_join", reached,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnBranchFailed implements ext.BranchFailed.
func (e *Extension) OnBranchFailed(ctx context.Context, b *fork.Branch, branchErr error) error {
	return e.recordBranch(ctx, ActionBranchFailed, SeverityWarning, OutcomeFailure, b, branchErr)
}

// OnContinuationResumed implements ext.ContinuationResumed.
func (e *Extension) OnContinuationResumed(ctx context.Context, f *fork.Fork, join *graph.Node) error {
	return e.recordFork(ctx, ActionContinuationResumed, SeverityInfo, OutcomeSuccess, f, nil,
		"resumed_from", join.ID,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordFork(ctx context.Context, action, severity, outcome string, f *fork.Fork, err error, kvPairs ...any) error {
	kvPairs = append(kvPairs,
		"fork_node", f.Node.ID,
		"join_node", f.Join.ID,
		"policy", f.Config.Policy.String(),
	)
	return e.record(ctx, action, severity, outcome,
		ResourceFork, f.ID.String(), f.RunID.String(), CategoryFork, err, kvPairs...)
}

func (e *Extension) recordBranch(ctx context.Context, action, severity, outcome string, b *fork.Branch, err error, kvPairs ...any) error {
	kvPairs = append(kvPairs,
		"branch", b.Name(),
		"fork_id", b.Fork.ID.String(),
		"pool", b.Pool,
	)
	return e.record(ctx, action, severity, outcome,
		ResourceBranch, b.ID.String(), b.Fork.RunID.String(), CategoryBranch, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, runID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		RunID:      runID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
