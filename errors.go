package forkjoin

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Topology errors.
	ErrTopology      = errors.New("forkjoin: invalid topology")
	ErrJoinNotFound  = errors.New("forkjoin: join node not found within lookahead bound")
	ErrNestedGateway = errors.New("forkjoin: nested parallel gateway")

	// Lookup errors.
	ErrNodeNotFound     = errors.New("forkjoin: node not found")
	ErrActivityNotFound = errors.New("forkjoin: activity not registered")
	ErrCounterNotFound  = errors.New("forkjoin: join counter not found")

	// Execution errors.
	ErrTimeout       = errors.New("forkjoin: fork timed out")
	ErrInvalidConfig = errors.New("forkjoin: invalid node configuration")
	ErrPoolStopped   = errors.New("forkjoin: worker pool stopped")
	ErrNotStarted    = errors.New("forkjoin: engine not started")
)

// ApplicationError is a structured, expected business failure raised from
// inside a branch. Application errors are routed through the exception
// processor and may be swallowed when a fork runs in trace-output mode.
type ApplicationError struct {
	Code    string
	Message string
	Cause   error
}

// NewApplicationError creates an ApplicationError with the given code and message.
func NewApplicationError(code, message string) *ApplicationError {
	return &ApplicationError{Code: code, Message: message}
}

func (e *ApplicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("forkjoin: application error %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("forkjoin: application error %s: %s", e.Code, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.Cause }

// IsApplicationError reports whether err wraps an *ApplicationError.
func IsApplicationError(err error) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr)
}

// TimeoutError is returned when a fork's bounded wait, or a single branch's
// deadline, elapses and the fork is not configured to skip timeout
// exceptions.
type TimeoutError struct {
	ForkID string
	// Branch names the branch whose own deadline elapsed. Empty when the
	// fork-wide wait elapsed.
	Branch  string
	Timeout time.Duration
	// Pending is the number of branches that had not reported.
	Pending int
}

func (e *TimeoutError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("forkjoin: branch %s of fork %s timed out after %s", e.Branch, e.ForkID, e.Timeout)
	}
	return fmt.Sprintf("forkjoin: fork %s timed out after %s with %d branch(es) pending",
		e.ForkID, e.Timeout, e.Pending)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// TopologyError reports a malformed graph: a fork with no discoverable join,
// bad edge cardinality, or a nested gateway.
type TopologyError struct {
	NodeID string
	Reason string
	Err    error
}

func (e *TopologyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("forkjoin: topology error at node %q: %s: %v", e.NodeID, e.Reason, e.Err)
	}
	return fmt.Sprintf("forkjoin: topology error at node %q: %s", e.NodeID, e.Reason)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTopology) match.
func (e *TopologyError) Is(target error) bool { return target == ErrTopology }
