// Package middleware provides composable middleware for branch execution.
//
// A [Middleware] wraps the handler that walks one fork branch. Middleware
// are composed into a chain using [Chain] and applied around every branch
// the gateway runs. The first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs branch start, duration and outcome
//   - [Recover] turns panics into unexpected errors
//   - [Timeout] applies a per-branch deadline from the start node's config
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-branch duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, b *fork.Branch, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
package middleware
