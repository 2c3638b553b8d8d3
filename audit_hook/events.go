package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionForkStarted         = "fork.started"
	ActionForkCompleted       = "fork.completed"
	ActionForkDegraded        = "fork.degraded"
	ActionForkFailed          = "fork.failed"
	ActionForkPending         = "fork.pending"
	ActionBranchCompleted     = "branch.completed"
	ActionBranchFailed        = "branch.failed"
	ActionContinuationResumed = "continuation.resumed"
)

// Audit event categories group related actions.
const (
	CategoryFork   = "forkjoin.fork"
	CategoryBranch = "forkjoin.branch"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceFork   = "fork"
	ResourceBranch = "branch"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionForkStarted,
		ActionForkCompleted,
		ActionForkDegraded,
		ActionForkFailed,
		ActionForkPending,
		ActionBranchCompleted,
		ActionBranchFailed,
		ActionContinuationResumed,
	}
}
