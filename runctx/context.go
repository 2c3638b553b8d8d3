// Package runctx holds the per-run execution context: the run ID, the
// mutable variable bag, the gateway flags and handles to the shared
// worker-pool registry and join counter.
//
// Forking a context produces an isolated child whose variable bag is a deep
// copy of the parent's. Branches therefore never race on context mutation,
// and a parent is never changed by its children.
package runctx

import (
	"maps"
	"reflect"
	"sync"

	"github.com/xraph/forkjoin/counter"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/worker"
)

// Flags are the gateway switches carried by a context. Fork node
// configuration may override them for a single fork.
type Flags struct {
	// Async lets branches complete in separate process invocations,
	// coordinated through the distributed join counter.
	Async bool `json:"async"`
	// TraceOutput makes application errors degrade a fork instead of
	// failing it, so partial results stay observable.
	TraceOutput bool `json:"trace_output"`
	// SkipTimeoutException lets a timed-out fork continue with the
	// branches that did complete.
	SkipTimeoutException bool `json:"skip_timeout_exception"`
}

// Context is the mutable state of one run. It is safe for concurrent use,
// although a context is normally owned by a single branch.
type Context struct {
	runID id.RunID

	mu         sync.RWMutex
	vars       map[string]any
	flags      Flags
	activeFork bool
	degraded   bool
	errs       []error

	graph   graph.Provider
	pools   *worker.Registry
	counter counter.Counter
}

// Option configures a Context.
type Option func(*Context)

// WithVars seeds the variable bag. The map is deep-copied.
func WithVars(vars map[string]any) Option {
	return func(c *Context) { c.vars = cloneMap(vars) }
}

// WithFlags sets the gateway flags.
func WithFlags(f Flags) Option {
	return func(c *Context) { c.flags = f }
}

// WithGraph attaches the graph the run walks.
func WithGraph(p graph.Provider) Option {
	return func(c *Context) { c.graph = p }
}

// WithPools attaches the worker-pool registry.
func WithPools(r *worker.Registry) Option {
	return func(c *Context) { c.pools = r }
}

// WithCounter attaches the join counter service.
func WithCounter(cnt counter.Counter) Option {
	return func(c *Context) { c.counter = cnt }
}

// New creates a Context for the given run. A Nil runID gets a fresh ID.
func New(runID id.RunID, opts ...Option) *Context {
	if runID.IsNil() {
		runID = id.NewRunID()
	}
	c := &Context{runID: runID, vars: make(map[string]any)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunID returns the run identifier.
func (c *Context) RunID() id.RunID { return c.runID }

// Graph returns the graph handle, or nil.
func (c *Context) Graph() graph.Provider { return c.graph }

// Pools returns the worker-pool registry handle, or nil.
func (c *Context) Pools() *worker.Registry { return c.pools }

// Counter returns the join counter handle, or nil.
func (c *Context) Counter() counter.Counter { return c.counter }

// Get returns a variable.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// Set stores a variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[key] = value
}

// Delete removes a variable.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vars, key)
}

// Vars returns a deep copy of the variable bag.
func (c *Context) Vars() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMap(c.vars)
}

// Flags returns the current gateway flags.
func (c *Context) Flags() Flags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags
}

// SetFlags replaces the gateway flags.
func (c *Context) SetFlags(f Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = f
}

// InActiveFork reports whether the run is inside a fork whose join
// counter has been seeded and not yet finalized.
func (c *Context) InActiveFork() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeFork
}

// SetActiveFork sets or clears the active-fork marker.
func (c *Context) SetActiveFork(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeFork = active
}

// Fork returns an isolated child context. Variables are deep-copied,
// including typed slices, maps, pointers and exported struct fields;
// channels, funcs and unexported struct fields stay shared. Flags, the
// active-fork marker and service handles are inherited.
func (c *Context) Fork() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Context{
		runID:      c.runID,
		vars:       cloneMap(c.vars),
		flags:      c.flags,
		activeFork: c.activeFork,
		graph:      c.graph,
		pools:      c.pools,
		counter:    c.counter,
	}
}

// Adopt replaces the variable bag, active-fork marker and recorded errors
// with those of src. A fork calls it on the parent once a branch context
// has become authoritative.
func (c *Context) Adopt(src *Context) {
	if src == c {
		return
	}
	src.mu.RLock()
	vars := cloneMap(src.vars)
	active := src.activeFork
	errs := append([]error(nil), src.errs...)
	src.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars = vars
	c.activeFork = active
	c.errs = append(c.errs, errs...)
}

// RecordError keeps branch errors that degraded a fork without failing
// the run.
func (c *Context) RecordError(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
}

// MarkDegraded records that a fork ended the run without a continuation
// because of swallowed application errors.
func (c *Context) MarkDegraded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = true
}

// Degraded reports whether MarkDegraded was called.
func (c *Context) Degraded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.degraded
}

// Errors returns the recorded errors.
func (c *Context) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]error(nil), c.errs...)
}

// Snapshot is the serializable form of a Context used to hand a branch to
// another process invocation. Service handles are not part of it.
type Snapshot struct {
	RunID      id.RunID       `json:"run_id"`
	Vars       map[string]any `json:"vars,omitempty"`
	Flags      Flags          `json:"flags"`
	ActiveFork bool           `json:"active_fork"`
}

// Snapshot captures the context state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		RunID:      c.runID,
		Vars:       cloneMap(c.vars),
		Flags:      c.flags,
		ActiveFork: c.activeFork,
	}
}

// Restore rebuilds a Context from a snapshot, attaching the local
// service handles given in opts.
func Restore(s Snapshot, opts ...Option) *Context {
	c := New(s.RunID, opts...)
	c.vars = cloneMap(s.Vars)
	c.flags = s.Flags
	c.activeFork = s.ActiveFork
	return c
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(t)
	case []string:
		return append([]string(nil), t...)
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

// cloneReflect copies slices, arrays, maps, pointers and the exported
// fields of structs. Channels, funcs and unexported fields are shared.
// Values must not contain pointer cycles.
func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneReflect(v.Elem()))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneReflect(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(cloneReflect(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}
