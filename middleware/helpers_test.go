package middleware_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestBranch returns branch 1 (split -> b) of a diamond fork.
func newTestBranch(t *testing.T, startOpts ...graph.NodeOption) *fork.Branch {
	t.Helper()
	g, err := graph.NewBuilder().
		Fork("split").
		Ordinary("a").
		Ordinary("b", startOpts...).
		Join("merge").
		Edge("split", "a").
		Edge("split", "b").
		Edge("a", "merge").
		Edge("b", "merge").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	split, _ := g.Node("split")
	merge, _ := g.Node("merge")
	b, _ := g.Node("b")

	f := &fork.Fork{
		ID:       id.NewForkID(),
		RunID:    id.NewRunID(),
		Node:     split,
		Join:     merge,
		Config:   fork.Config{Policy: fork.RaceFirst},
		Branches: 2,
	}
	return &fork.Branch{ID: id.NewBranchID(), Fork: f, Index: 1, Start: b, Pool: "io"}
}
