package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/forkjoin"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
	"github.com/xraph/forkjoin/sequential"
)

// setPrefix marks node config keys the set activity copies into the run.
const setPrefix = "set."

func builtinActivities(logger *slog.Logger) map[string]sequential.Activity {
	return map[string]sequential.Activity{
		"sleep": sleepActivity,
		"set":   setActivity,
		"fail":  failActivity,
		"log": func(_ context.Context, n *graph.Node, ec *runctx.Context) error {
			logger.Info("node reached",
				slog.String("run_id", ec.RunID().String()),
				slog.String("node", n.ID),
				slog.Any("vars", ec.Vars()),
			)
			return nil
		},
	}
}

// sleepActivity waits for the node's "duration" (e.g. "150ms").
func sleepActivity(ctx context.Context, n *graph.Node, _ *runctx.Context) error {
	raw, ok := n.ConfigValue("duration")
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: node %s duration %q", forkjoin.ErrInvalidConfig, n.ID, raw)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setActivity copies every "set.<key>" config entry into the run variables.
func setActivity(_ context.Context, n *graph.Node, ec *runctx.Context) error {
	for k, v := range n.Config {
		if key, ok := strings.CutPrefix(k, setPrefix); ok && key != "" {
			ec.Set(key, v)
		}
	}
	return nil
}

// failActivity raises an application error with the node's "code".
func failActivity(_ context.Context, n *graph.Node, _ *runctx.Context) error {
	code, _ := n.ConfigValue("code")
	if code == "" {
		code = "FAILED"
	}
	msg, _ := n.ConfigValue("message")
	if msg == "" {
		msg = "node " + n.ID + " failed"
	}
	return forkjoin.NewApplicationError(code, msg)
}
