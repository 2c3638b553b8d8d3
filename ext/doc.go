// Package ext defines the extension system for forkjoin.
//
// Extensions are notified of fork lifecycle events and can react to them
// by recording metrics, writing audit logs or forwarding events.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnForkDegraded(ctx context.Context, f *fork.Fork, errs []error) error {
//	    log.Printf("fork %s degraded: %v", f.Node.ID, errs)
//	    return nil
//	}
//
// # Fork Lifecycle Hooks
//
//   - [ForkStarted] branches were built and are about to be submitted
//   - [ForkCompleted] the completion policy was satisfied
//   - [ForkDegraded] application errors ended a trace-output fork
//   - [ForkFailed] the fork returned an error
//   - [ForkPending] an async fork returned before its branches finished
//
// # Branch Hooks
//
//   - [BranchCompleted] a branch reached its join or a terminal node
//   - [BranchFailed] a branch ended with an error
//   - [ContinuationResumed] execution resumed from the join, once per fork
//
// # Other Hooks
//
//   - [Shutdown] the engine is shutting down gracefully
//
// Hook errors are logged and never propagated.
package ext
