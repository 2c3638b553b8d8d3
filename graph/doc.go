// Package graph defines the read-only workflow graph model used by the
// parallel gateway: nodes tagged Ordinary, Fork or Join, directed edges,
// string-keyed node configuration, the bounded join lookahead and topology
// validation.
//
// A Graph is immutable once built and is safe to share between goroutines.
//
// # Topology rules
//
//   - A Fork node has at least two outgoing edges and exactly one incoming edge.
//   - A Join node has at least two incoming edges and exactly one outgoing edge.
//   - An Ordinary node has at most one outgoing edge.
//   - Every branch of a fork reaches the fork's join (or a terminal node)
//     without passing through another Fork. Nested gateways are rejected.
package graph
