package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scopeguard/scopeguard/internal/changeset"
	"github.com/scopeguard/scopeguard/internal/config"
	"github.com/scopeguard/scopeguard/internal/focus"
	"github.com/scopeguard/scopeguard/internal/gitops"
	"github.com/scopeguard/scopeguard/internal/graph"
	"github.com/scopeguard/scopeguard/internal/pipeline"
	"github.com/scopeguard/scopeguard/internal/revision"
	"github.com/scopeguard/scopeguard/internal/runner"
	"github.com/scopeguard/scopeguard/internal/strategy"
	"github.com/scopeguard/scopeguard/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run <target> [-- runner args...]",
	Short: "Run a target over the minimal affected scope",
	Long: `Resolve the affected project scope for a target and execute it.

The decision pipeline:
1. Resolve the comparison baseline (flag, CI base branch, the
   ` + revision.PointerFileName + ` pointer file, or the configured default)
2. Diff changed files against the baseline
3. Skip outright for doc-only change sets
4. Query the workspace graph for the affected project set
5. Optionally narrow to a --focus subset, validating that no affected
   transitive dependency is silently dropped
6. Execute the task runner over the chosen scope

Any failure to determine the minimal scope falls back to a full-scope
run; the task runner's exit code is propagated verbatim.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := args[0]
		forwarded := args[1:]

		focusFlag, _ := cmd.Flags().GetString("focus")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		jsonOut, _ := cmd.Flags().GetBool("json")
		interactive, _ := cmd.Flags().GetBool("interactive")
		metricsJSON, _ := cmd.Flags().GetString("metrics-json")
		validateFocus, _ := cmd.Flags().GetBool("validate-focus")
		baseFlag, _ := cmd.Flags().GetString("base")
		headFlag, _ := cmd.Flags().GetString("head")
		noFetch, _ := cmd.Flags().GetBool("no-fetch")

		// Environment fallbacks for flags
		if baseFlag == "" {
			baseFlag = os.Getenv("SCOPEGUARD_BASE")
		}
		if headFlag == "" {
			headFlag = os.Getenv("SCOPEGUARD_HEAD")
		}
		if focusFlag == "" {
			focusFlag = os.Getenv("SCOPEGUARD_FOCUS")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var logW io.Writer = io.Discard
		if debugEnabled() {
			logW = os.Stderr
		}

		git, err := gitops.New(ctx, repoDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		repoRoot, err := git.RepoRoot(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: not inside a git repository: %v\n", err)
			os.Exit(1)
		}

		cfg, err := config.Load(repoRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if noFetch {
			cfg.Fetch = false
		}
		if metricsJSON != "" {
			cfg.Telemetry.Path = metricsJSON
		}

		recorder := newRecorder(cfg, repoRoot, logW)

		p := &pipeline.Pipeline{
			Resolver: &revision.Resolver{
				OverrideBase:      baseFlag,
				OverrideHead:      headFlag,
				CIBase:            os.Getenv("GITHUB_BASE_REF"),
				RepoRoot:          repoRoot,
				DefaultBaseBranch: cfg.BaseBranch,
				Log:               logW,
			},
			Changes: &changeset.Provider{
				VCS: git,
				Classifier: changeset.Classifier{
					NonSourceSuffixes: cfg.NonSourceSuffixes,
					NonSourceNames:    cfg.NonSourceNames,
				},
				AllowFetch: cfg.Fetch,
				Log:        logW,
			},
			Selector: &strategy.Selector{
				Graph: newGraphProvider(cfg, repoRoot),
				Log:   logW,
			},
			Runner: &runner.CLIRunner{
				Tool:    cfg.Runner.Tool,
				WorkDir: repoRoot,
			},
			Recorder:   recorder,
			HasHistory: git.HasHistory,
		}

		res := p.Run(ctx, pipeline.Options{
			Target:        target,
			Focus:         focus.Parse(focusFlag),
			StrictFocus:   validateFocus,
			DryRun:        dryRun,
			JSONOutput:    jsonOut,
			Interactive:   interactive,
			CIMode:        os.Getenv("CI") != "",
			ForwardedArgs: forwarded,
		})

		// Flush telemetry explicitly; os.Exit skips deferred calls.
		if err := recorder.Sink.Shutdown(ctx); err != nil {
			fmt.Fprintf(logW, "telemetry: sink shutdown failed: %v\n", err)
		}
		if recorder.History != nil {
			_ = recorder.History.Close()
		}
		os.Exit(res.ExitCode)
	},
}

// newGraphProvider builds the workspace graph adapter from config.
func newGraphProvider(cfg *config.Config, repoRoot string) *graph.CLIProvider {
	return &graph.CLIProvider{
		Tool:    cfg.Graph.Tool,
		WorkDir: repoRoot,
		Timeout: time.Duration(cfg.Graph.TimeoutSeconds) * time.Second,
	}
}

// newRecorder assembles the telemetry recorder: JSON artifact, optional
// metrics sink, optional history store. All best-effort.
func newRecorder(cfg *config.Config, repoRoot string, logW io.Writer) *telemetry.Recorder {
	rec := &telemetry.Recorder{
		Path: resolvePath(repoRoot, cfg.Telemetry.Path),
		Sink: telemetry.NopSink{},
		Log:  logW,
	}

	if cfg.Telemetry.EnableMetricsSink {
		sink, err := telemetry.NewOTelSink()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: metrics sink unavailable: %v\n", err)
		} else {
			rec.Sink = sink
		}
	}

	if cfg.Telemetry.HistoryPath != "" {
		history, err := telemetry.OpenHistory(resolvePath(repoRoot, cfg.Telemetry.HistoryPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: telemetry history unavailable: %v\n", err)
		} else {
			rec.History = history
			pruneHistory(history, cfg.Telemetry.Retention, logW)
		}
	}

	return rec
}

// pruneHistory enforces the retention bounds on open. Best-effort,
// like all telemetry.
func pruneHistory(history *telemetry.History, ret config.RetentionConfig, logW io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := history.Prune(ctx, telemetry.PruneOptions{
		MaxAgeDays: ret.MaxAgeDays,
		MaxRows:    ret.MaxRows,
		Vacuum:     ret.Vacuum,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history prune failed: %v\n", err)
		return
	}
	if n > 0 {
		fmt.Fprintf(logW, "telemetry: pruned %d run record(s)\n", n)
	}
}

// resolvePath anchors relative paths at the repository root.
func resolvePath(repoRoot, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(repoRoot, path)
}

func init() {
	runCmd.Flags().String("focus", "", "Comma-separated projects to focus on (or SCOPEGUARD_FOCUS)")
	runCmd.Flags().Bool("dry-run", false, "Print the decision without executing")
	runCmd.Flags().Bool("json", false, "Emit the decision as a single JSON object")
	runCmd.Flags().Bool("interactive", false, "Allow interactive task runner execution")
	runCmd.Flags().String("metrics-json", "", "Telemetry output path override (or SCOPEGUARD_METRICS_JSON)")
	runCmd.Flags().Bool("validate-focus", false, "Fail when focusing would omit an affected dependency")
	runCmd.Flags().String("base", "", "Explicit comparison baseline (or SCOPEGUARD_BASE)")
	runCmd.Flags().String("head", "", "Explicit head revision (or SCOPEGUARD_HEAD)")
	runCmd.Flags().Bool("no-fetch", false, "Never fetch a missing baseline (or SCOPEGUARD_NO_FETCH)")
	rootCmd.AddCommand(runCmd)
}
