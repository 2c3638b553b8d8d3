// Package audithook is a forkjoin extension that bridges fork lifecycle
// events to an immutable audit trail backend.
//
// Every fork, branch and continuation hook emits a structured audit event
// through the [Recorder] interface. The extension assigns severity levels
// (info for normal operations, warning for degraded forks and failed
// branches, critical for failed forks) and metadata (fork node, join,
// policy, elapsed time, errors).
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return json.NewEncoder(w).Encode(evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionForkFailed,
//	        audithook.ActionForkDegraded,
//	    ),
//	)
package audithook
