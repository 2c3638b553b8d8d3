package fork

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
)

// Node configuration keys read from a fork node.
const (
	KeyPool                 = "pool"
	KeyTimeout              = "timeout"
	KeyPolicy               = "policy"
	KeySkipTimeoutException = "skip_timeout_exception"
	KeyAsync                = "async"
	KeyTraceOutput          = "trace_output"
)

// Policy decides when a fork is complete.
type Policy int

const (
	// WaitAll waits for every branch.
	WaitAll Policy = iota
	// RaceFirst continues with the first branch to finish and cancels the rest.
	RaceFirst
)

func (p Policy) String() string {
	switch p {
	case WaitAll:
		return "wait_all"
	case RaceFirst:
		return "race_first"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name. The empty string is WaitAll.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wait_all", "waitall", "all":
		return WaitAll, nil
	case "race_first", "racefirst", "race", "any":
		return RaceFirst, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", forkjoin.ErrInvalidConfig, s)
	}
}

// Config is the resolved configuration of a fork node.
type Config struct {
	Pool string
	// Timeout bounds the wait for branches. Zero waits indefinitely.
	Timeout              time.Duration
	Policy               Policy
	SkipTimeoutException bool
	Async                bool
	TraceOutput          bool
}

// Flags returns the config's switches as context flags, so branches
// inherit what the fork resolved.
func (c Config) Flags() runctx.Flags {
	return runctx.Flags{
		Async:                c.Async,
		TraceOutput:          c.TraceOutput,
		SkipTimeoutException: c.SkipTimeoutException,
	}
}

// ParseConfig reads a fork node's configuration. Flags missing from the
// node fall back to the given context flags.
func ParseConfig(n *graph.Node, defaults runctx.Flags) (Config, error) {
	cfg := Config{
		SkipTimeoutException: defaults.SkipTimeoutException,
		Async:                defaults.Async,
		TraceOutput:          defaults.TraceOutput,
	}
	cfg.Pool, _ = n.ConfigValue(KeyPool)

	if v, ok := n.ConfigValue(KeyTimeout); ok && v != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("%w: node %q: timeout %q must be a non-negative number of milliseconds",
				forkjoin.ErrInvalidConfig, n.ID, v)
		}
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}

	if v, ok := n.ConfigValue(KeyPolicy); ok {
		p, err := ParsePolicy(v)
		if err != nil {
			return Config{}, fmt.Errorf("node %q: %w", n.ID, err)
		}
		cfg.Policy = p
	}

	for key, dst := range map[string]*bool{
		KeySkipTimeoutException: &cfg.SkipTimeoutException,
		KeyAsync:                &cfg.Async,
		KeyTraceOutput:          &cfg.TraceOutput,
	} {
		v, ok := n.ConfigValue(key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%w: node %q: %s %q is not a boolean",
				forkjoin.ErrInvalidConfig, n.ID, key, v)
		}
		*dst = b
	}
	return cfg, nil
}
