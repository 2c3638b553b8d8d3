// Package engine is the application-level entry point of forkjoin.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithLogger(logger),
//	    engine.WithActivity("charge", charge),
//	    engine.WithActivity("ship", ship),
//	    engine.WithExtension(auditExt),
//	)
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// # Running a Graph
//
//	res, err := eng.Run(ctx, g, "start", map[string]any{"order": "o-1"})
//	switch res.Status {
//	case engine.StatusCompleted:
//	case engine.StatusDegraded: // res.Errors holds the swallowed application errors
//	case engine.StatusPending:  // an async fork continues in its branches
//	}
//
// # Distributed Joins
//
// Set Config.RedisAddr (or pass WithRedis) to coordinate async forks across
// processes. A custom gateway.Launcher can ship each gateway.BranchRequest
// to another invocation, which calls HandleBranch.
//
// # Options
//
//   - [WithConfig]: engine configuration (pools, lookahead, counter TTL)
//   - [WithActivity]: register a node activity
//   - [WithCounter], [WithRedis]: choose the join counter
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a branch middleware
//   - [WithExceptionProcessor]: observe or rewrite branch errors
//   - [WithLauncher]: control where async branches run
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
