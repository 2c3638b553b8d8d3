package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/forkjoin"
	audithook "github.com/xraph/forkjoin/audit_hook"
	"github.com/xraph/forkjoin/engine"
	"github.com/xraph/forkjoin/gateway"
	"github.com/xraph/forkjoin/graph"
	"github.com/xraph/forkjoin/runctx"
)

var (
	configPath  string
	redisAddr   string
	startNode   string
	varPairs    []string
	asyncMode   bool
	traceOutput bool
	skipTimeout bool
	auditLog    bool
	verbose     bool
	spoolDir    string
	codecName   string

	rootCmd = &cobra.Command{
		Use:   "forkjoin",
		Short: "Validate and run parallel-gateway workflow graphs",
		Long: `forkjoin runs workflow graphs whose fork nodes fan out into
concurrent branches that reconverge on a join node.`,
		SilenceUsage: true,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [graph.yaml]",
		Short: "Check a graph's gateway topology",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	runCmd = &cobra.Command{
		Use:   "run [graph.yaml]",
		Short: "Run a graph with the built-in activities (sleep, set, log, fail)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	branchCmd = &cobra.Command{
		Use:   "branch [graph.yaml] [request]",
		Short: "Run one spooled async branch and resume the flow if it completes the join",
		Args:  cobra.ExactArgs(2),
		RunE:  runBranch,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for the distributed join counter")
	runCmd.Flags().StringVar(&startNode, "start", "start", "ID of the node to start from")
	runCmd.Flags().StringSliceVar(&varPairs, "var", nil, "initial variable as key=value (repeatable)")
	runCmd.Flags().BoolVar(&asyncMode, "async", false, "run forks in async mode by default")
	runCmd.Flags().BoolVar(&traceOutput, "trace-output", false, "degrade forks on application errors instead of failing")
	runCmd.Flags().BoolVar(&skipTimeout, "skip-timeout-exception", false, "continue timed-out forks with completed branches")
	runCmd.Flags().BoolVar(&auditLog, "audit", false, "write fork audit events to stderr as JSON lines")
	runCmd.Flags().StringVar(&spoolDir, "spool", "", "write async branch requests to this directory instead of running them")

	branchCmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address for the distributed join counter")

	for _, c := range []*cobra.Command{runCmd, branchCmd} {
		c.Flags().StringVar(&codecName, "codec", gateway.CodecNameJSON, "branch request encoding (json or msgpack)")
	}

	rootCmd.AddCommand(validateCmd, runCmd, branchCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (forkjoin.Config, error) {
	if configPath == "" {
		return forkjoin.DefaultConfig(), nil
	}
	return forkjoin.LoadConfig(configPath)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	g, err := graph.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	if err := graph.Validate(g, cfg.LookaheadDepth); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d nodes)\n", args[0], g.Len())
	return nil
}

func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// newAuditExtension encodes every audit event as one JSON line on w.
func newAuditExtension(w io.Writer, logger *slog.Logger) *audithook.Extension {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return audithook.New(audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(evt)
	}), audithook.WithLogger(logger))
}

// runOutput is the JSON printed by the run command.
type runOutput struct {
	RunID   string         `json:"run_id"`
	Status  string         `json:"status"`
	Elapsed string         `json:"elapsed"`
	Vars    map[string]any `json:"vars"`
	Errors  []string       `json:"errors,omitempty"`
	// Continuation reports how a locally run async fork ended.
	Continuation string `json:"continuation,omitempty"`
	// Spooled lists the branch request files written with --spool.
	Spooled []string `json:"spooled,omitempty"`
}

// newEngine builds and starts an engine with the built-in activities.
// The caller stops it.
func newEngine(ctx context.Context, cmd *cobra.Command, logger *slog.Logger, extra ...engine.Option) (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}
	opts := []engine.Option{engine.WithConfig(cfg), engine.WithLogger(logger)}
	for name, a := range builtinActivities(logger) {
		opts = append(opts, engine.WithActivity(name, a))
	}
	if auditLog {
		opts = append(opts, engine.WithExtension(newAuditExtension(cmd.ErrOrStderr(), logger)))
	}
	eng, err := engine.New(append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

func stopEngine(ctx context.Context, eng *engine.Engine, logger *slog.Logger) {
	if err := eng.Stop(context.WithoutCancel(ctx)); err != nil {
		logger.Error("engine stop failed", slog.String("error", err.Error()))
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runRun(cmd *cobra.Command, args []string) error {
	g, err := graph.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}
	vars, err := parseVars(varPairs)
	if err != nil {
		return err
	}
	if spoolDir != "" && redisAddr == "" {
		return errors.New("--spool needs --redis so that branch invocations share the join counter")
	}

	logger := newLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		extra   []engine.Option
		spool   *spoolLauncher
		watcher = newContinuationWatch()
	)
	if spoolDir != "" {
		spool = &spoolLauncher{dir: spoolDir, codec: gateway.GetCodec(codecName)}
		extra = append(extra, engine.WithLauncher(spool))
	} else {
		extra = append(extra, engine.WithExtension(watcher))
	}
	eng, err := newEngine(ctx, cmd, logger, extra...)
	if err != nil {
		return err
	}
	defer stopEngine(ctx, eng, logger)

	res, err := eng.Run(ctx, g, startNode, vars, engine.WithFlags(runctx.Flags{
		Async:                asyncMode,
		TraceOutput:          traceOutput,
		SkipTimeoutException: skipTimeout,
	}))
	if err != nil {
		return err
	}

	out := runOutput{
		RunID:   res.RunID.String(),
		Status:  res.Status.String(),
		Elapsed: res.Elapsed.String(),
		Vars:    res.Vars,
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	if res.Status == engine.StatusPending {
		if spool != nil {
			out.Spooled = spool.files()
		} else {
			out.Continuation, err = watcher.wait(ctx)
			if err != nil {
				return err
			}
		}
	}
	return printJSON(cmd, out)
}
