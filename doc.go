// Package forkjoin provides a parallel-gateway execution engine for graph
// based workflow runtimes. When a fork node fans out into several branches
// that later reconverge on a join node, forkjoin runs every branch
// concurrently, applies a completion policy, and resumes the converged flow
// exactly once.
//
// forkjoin is a library. The sequential graph walker, the worker pools and
// the distributed join counter are pluggable; the engine package wires a
// default set of them together.
//
// # Quick Start
//
//	g, err := graph.NewBuilder().
//	    Ordinary("start").
//	    Fork("split", graph.WithConfig("policy", "wait_all")).
//	    Ordinary("a").Ordinary("b").
//	    Join("merge").
//	    Ordinary("done").
//	    Edge("start", "split").
//	    Edge("split", "a").Edge("split", "b").
//	    Edge("a", "merge").Edge("b", "merge").
//	    Edge("merge", "done").
//	    Build()
//
//	eng, err := engine.New(engine.WithActivity("noop", noop))
//	if err != nil { ... }
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
//	res, err := eng.Run(ctx, g, "start", nil)
//
// # Architecture
//
// The graph package holds the read-only node/edge model and the join
// lookahead. runctx holds the per-run variable bag with copy-on-fork
// isolation. gateway contains the fork dispatcher, completion policies,
// branch tasks and the continuation resumer. counter defines the
// distributed join counter used in async mode, with in-memory and Redis
// implementations. sequential walks the non-fork parts of a graph and
// hands fork nodes to the gateway.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package forkjoin
