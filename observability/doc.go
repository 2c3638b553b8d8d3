// Package observability provides an OpenTelemetry metrics extension for
// forkjoin. MetricsExtension implements the lifecycle hooks and records
// counters for forks started, completed, degraded, failed and pending,
// for branch outcomes and for continuations.
//
// For per-branch tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
