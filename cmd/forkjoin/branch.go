package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/forkjoin/ext"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/worker"
)

// spoolLauncher writes each async branch request to a file so that a later
// `forkjoin branch` invocation can run it.
type spoolLauncher struct {
	dir   string
	codec gateway.Codec

	mu      sync.Mutex
	written []string
}

var _ gateway.Launcher = (*spoolLauncher)(nil)

func (s *spoolLauncher) Launch(_ context.Context, _ *worker.Pool, req gateway.BranchRequest, _ worker.Task) error {
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%d.%s", req.ForkID, req.Index, s.codec.Name())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("spool %s: %w", name, err)
	}
	s.mu.Lock()
	s.written = append(s.written, path)
	s.mu.Unlock()
	return nil
}

func (s *spoolLauncher) files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.written...)
	sort.Strings(out)
	return out
}

// continuationWatch reports how the first async fork of a local run ended.
type continuationWatch struct {
	once sync.Once
	done chan string
}

var (
	_ ext.Extension           = (*continuationWatch)(nil)
	_ ext.ContinuationResumed = (*continuationWatch)(nil)
	_ ext.ForkFailed          = (*continuationWatch)(nil)
	_ ext.ForkDegraded        = (*continuationWatch)(nil)
)

func newContinuationWatch() *continuationWatch {
	return &continuationWatch{done: make(chan string, 1)}
}

func (w *continuationWatch) Name() string { return "cli-continuation" }

func (w *continuationWatch) OnContinuationResumed(_ context.Context, _ *fork.Fork, join *graph.Node) error {
	w.report(fmt.Sprintf("resumed at %s", join.ID))
	return nil
}

func (w *continuationWatch) OnForkFailed(_ context.Context, f *fork.Fork, err error) error {
	w.report(fmt.Sprintf("fork %s failed: %v", f.Node.ID, err))
	return nil
}

func (w *continuationWatch) OnForkDegraded(_ context.Context, f *fork.Fork, errs []error) error {
	w.report(fmt.Sprintf("fork %s degraded with %d error(s)", f.Node.ID, len(errs)))
	return nil
}

func (w *continuationWatch) report(s string) {
	w.once.Do(func() { w.done <- s })
}

func (w *continuationWatch) wait(ctx context.Context) (string, error) {
	select {
	case s := <-w.done:
		return s, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// branchOutput is the JSON printed by the branch command.
type branchOutput struct {
	RunID  string         `json:"run_id"`
	Fork   string         `json:"fork"`
	Branch string         `json:"branch"`
	Status string         `json:"status"`
	Next   string         `json:"next,omitempty"`
	Vars   map[string]any `json:"vars,omitempty"`
}

func runBranch(cmd *cobra.Command, args []string) error {
	g, err := graph.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	req, err := gateway.GetCodec(codecName).Decode(data)
	if err != nil {
		return err
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cmd, logger)
	if err != nil {
		return err
	}
	defer stopEngine(ctx, eng, logger)

	sig, err := eng.HandleBranch(ctx, g, req)
	if err != nil {
		return err
	}
	logger.Debug("branch handled",
		slog.String("run_id", req.RunID.String()),
		slog.String("fork", req.ForkNode),
		slog.Int("index", req.Index),
	)

	out := branchOutput{
		RunID:  req.RunID.String(),
		Fork:   req.ForkNode,
		Branch: fmt.Sprintf("%s[%d]->%s", req.ForkNode, req.Index, req.StartNode),
	}
	switch {
	case sig.Authoritative:
		out.Status = "resumed"
		if sig.Next != nil {
			out.Next = sig.Next.ID
		}
		if sig.Context != nil {
			out.Vars = sig.Context.Vars()
		}
	case sig.Join == nil && !sig.Pending:
		out.Status = "terminal"
	default:
		out.Status = "pending"
	}
	return printJSON(cmd, out)
}
