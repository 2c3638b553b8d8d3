// Package gateway executes parallel gateways: it fans a fork node out into
// concurrent branches, applies the fork's completion policy and resumes the
// converged flow from the join node exactly once.
//
// # Synchronous forks
//
// [Gateway.Orchestrate] forks the execution context once per outgoing edge,
// submits every branch to its worker pool and blocks in the completion
// policy. [fork.WaitAll] waits for every branch; [fork.RaceFirst] continues
// with the first branch to reach the join and cancels the rest. Both honour
// the fork's timeout. The continuation then runs on the caller's goroutine
// with the authoritative branch context.
//
// # Async forks
//
// With async mode the dispatcher seeds a join counter, launches the
// branches and returns an [Outcome] in [StatePending]. Each branch
// decrements the counter when it reaches the join; only the branch that
// observes zero resumes the flow. Branches may run in other process
// invocations: a [Launcher] can ship a serializable [BranchRequest]
// elsewhere, where [Gateway.HandleBranch] runs it against a shared counter.
//
// # Errors
//
// Every branch error passes through the [ExceptionProcessor]. Application
// errors degrade a trace-output fork instead of failing it; any other error
// fails the fork and cancels the remaining branches.
package gateway
