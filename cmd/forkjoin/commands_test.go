package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/xraph/forkjoin"
	audithook "github.com/xraph/forkjoin/audit_hook"
	"github.com/xraph/forkjoin/fork"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/id"
	"github.com/xraph/forkjoin/runctx"
)

const diamondYAML = `nodes:
  - id: start
    activity: set
    config:
      set.greeting: hello
  - id: split
    kind: fork
  - id: a
    activity: sleep
    config:
      duration: 5ms
  - id: b
    activity: set
    config:
      set.b: done
  - id: merge
    kind: join
  - id: end
    activity: log
edges:
  - {from: start, to: split}
  - {from: split, to: a}
  - {from: split, to: b}
  - {from: a, to: merge}
  - {from: b, to: merge}
  - {from: merge, to: end}
`

func writeGraph(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores the package-level flag values after a test that sets
// them, since cobra only writes the ones passed on the command line.
func resetFlags(t *testing.T) {
	t.Cleanup(func() {
		redisAddr, spoolDir, codecName = "", "", "json"
		asyncMode, traceOutput, skipTimeout, auditLog = false, false, false, false
		varPairs = nil
		startNode = "start"
	})
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writeGraph(t, diamondYAML))
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !bytes.Contains([]byte(out), []byte("ok (6 nodes)")) {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", writeGraph(t, diamondYAML), "--var", "order=o-1")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res runOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != "completed" {
		t.Errorf("status = %q, want completed", res.Status)
	}
	for k, want := range map[string]string{"greeting": "hello", "order": "o-1"} {
		if res.Vars[k] != want {
			t.Errorf("vars[%s] = %v, want %s", k, res.Vars[k], want)
		}
	}
}

func TestParseVars(t *testing.T) {
	if _, err := parseVars([]string{"novalue"}); err == nil {
		t.Error("expected error for a pair without '='")
	}
	vars, err := parseVars([]string{"a=1", "b=x=y"})
	if err != nil {
		t.Fatalf("parseVars: %v", err)
	}
	if vars["a"] != "1" || vars["b"] != "x=y" {
		t.Errorf("vars = %v", vars)
	}
}

func TestFailActivity(t *testing.T) {
	g, err := graph.NewBuilder().Ordinary("x", graph.WithConfig("code", "E_X")).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	n, _ := g.Node("x")
	err = failActivity(context.Background(), n, runctx.New(id.NewRunID()))
	var appErr *forkjoin.ApplicationError
	if !errors.As(err, &appErr) || appErr.Code != "E_X" {
		t.Errorf("err = %v, want application error E_X", err)
	}
}

func TestAuditExtension(t *testing.T) {
	var buf bytes.Buffer
	ext := newAuditExtension(&buf, slog.New(slog.NewTextHandler(io.Discard, nil)))

	g, err := graph.NewBuilder().
		Fork("split").Ordinary("a").Ordinary("b").Join("merge").
		Edge("split", "a").Edge("split", "b").Edge("a", "merge").Edge("b", "merge").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	split, _ := g.Node("split")
	merge, _ := g.Node("merge")
	f := &fork.Fork{ID: id.NewForkID(), RunID: id.NewRunID(), Node: split, Join: merge, Branches: 2}

	if err := ext.OnForkStarted(context.Background(), f); err != nil {
		t.Fatalf("OnForkStarted: %v", err)
	}
	var evt audithook.AuditEvent
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if evt.Action != audithook.ActionForkStarted || evt.RunID != f.RunID.String() {
		t.Errorf("event = %+v", evt)
	}
}

func TestRunCommand_AsyncReportsContinuation(t *testing.T) {
	resetFlags(t)
	out, err := execute(t, "run", writeGraph(t, diamondYAML), "--async")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res runOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != "pending" {
		t.Errorf("status = %q, want pending", res.Status)
	}
	if res.Continuation != "resumed at merge" {
		t.Errorf("continuation = %q, want resumed at merge", res.Continuation)
	}
}

func TestRunCommand_SpoolNeedsRedis(t *testing.T) {
	resetFlags(t)
	_, err := execute(t, "run", writeGraph(t, diamondYAML), "--async", "--spool", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "--redis") {
		t.Errorf("err = %v, want a --redis requirement", err)
	}
}

func TestBranchCommand_ResumesSpooledFork(t *testing.T) {
	resetFlags(t)
	mr := miniredis.RunT(t)
	path := writeGraph(t, diamondYAML)
	dir := t.TempDir()

	out, err := execute(t, "run", path, "--async", "--redis", mr.Addr(), "--spool", dir, "--codec", "msgpack")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var res runOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Status != "pending" || len(res.Spooled) != 2 {
		t.Fatalf("run = %+v, want pending with 2 spooled requests", res)
	}

	statuses := map[string]int{}
	var resumed branchOutput
	for _, file := range res.Spooled {
		if !strings.HasSuffix(file, ".msgpack") {
			t.Errorf("spooled file %s lacks the codec suffix", file)
		}
		out, err := execute(t, "branch", path, file, "--redis", mr.Addr(), "--codec", "msgpack")
		if err != nil {
			t.Fatalf("branch %s: %v\n%s", file, err, out)
		}
		var b branchOutput
		if err := json.Unmarshal([]byte(out), &b); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if b.RunID != res.RunID || b.Fork != "split" {
			t.Errorf("branch output = %+v, want run %s fork split", b, res.RunID)
		}
		statuses[b.Status]++
		if b.Status == "resumed" {
			resumed = b
		}
	}
	if statuses["resumed"] != 1 || statuses["pending"] != 1 {
		t.Fatalf("statuses = %v, want one resumed and one pending", statuses)
	}
	// Requests run in file order, so the second branch completes the join.
	if resumed.Branch != "split[1]->b" {
		t.Errorf("resumed branch = %q, want split[1]->b", resumed.Branch)
	}
	if resumed.Vars["greeting"] != "hello" || resumed.Vars["b"] != "done" {
		t.Errorf("resumed vars = %v", resumed.Vars)
	}
}
