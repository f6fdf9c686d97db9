// Package pipeline wires the decision stages together: resolve the
// revision pair, diff, classify, query the graph, validate focus,
// select a strategy, execute, and record telemetry. The pipeline is
// synchronous; each stage completes before the next begins.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/scopeguard/scopeguard/internal/changeset"
	"github.com/scopeguard/scopeguard/internal/focus"
	"github.com/scopeguard/scopeguard/internal/revision"
	"github.com/scopeguard/scopeguard/internal/runner"
	"github.com/scopeguard/scopeguard/internal/strategy"
	"github.com/scopeguard/scopeguard/internal/telemetry"
)

// Options are the per-invocation knobs, mostly flag-derived.
type Options struct {
	Target        string
	Focus         []string
	StrictFocus   bool
	DryRun        bool
	JSONOutput    bool
	Interactive   bool
	CIMode        bool
	ForwardedArgs []string
}

// Pipeline holds the collaborators for one invocation.
type Pipeline struct {
	Resolver *revision.Resolver
	Changes  *changeset.Provider
	Selector *strategy.Selector
	Runner   runner.TaskRunner
	Recorder *telemetry.Recorder

	// HasHistory probes whether the repository has any commits; used to
	// detect the degraded default-base-with-no-history case. Nil means
	// history is assumed present.
	HasHistory func(ctx context.Context) bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Result is what the CLI needs to finish up: the decision, the refs it
// was made against, and the exit code to propagate.
type Result struct {
	Ref          revision.Ref
	Decision     strategy.Decision
	ChangedCount int
	ExitCode     int
}

// Run executes the full pipeline. Telemetry is recorded on every exit
// path, including strict-focus failures.
func (p *Pipeline) Run(ctx context.Context, opts Options) Result {
	start := time.Now()
	stdout := p.stdout()
	stderr := p.stderr()

	ref := p.Resolver.Resolve()
	cs := p.Changes.Diff(ctx, ref)

	noHistory := ref.Source == revision.SourceDefault &&
		p.HasHistory != nil && !p.HasHistory(ctx)

	decision, err := p.Selector.Select(ctx, strategy.Inputs{
		Ref:         ref,
		Changes:     cs,
		NoHistory:   noHistory,
		Focus:       opts.Focus,
		StrictFocus: opts.StrictFocus,
		Target:      opts.Target,
	})
	if err != nil {
		var strict *focus.StrictError
		if errors.As(err, &strict) {
			for _, w := range strict.Warnings {
				fmt.Fprintf(stderr, "%s %s\n", warnSign(), w)
			}
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)

		rec := telemetry.NewRecord(strategy.Decision{}, opts.Target, len(cs.Paths), time.Since(start), 1)
		rec.Strategy = "none"
		rec.Reason = "focus-validation-failed"
		p.Recorder.Record(ctx, rec)
		return Result{Ref: ref, ChangedCount: len(cs.Paths), ExitCode: 1}
	}

	if opts.JSONOutput {
		p.printJSON(stdout, opts.Target, ref, decision, len(cs.Paths))
	} else {
		p.printHuman(stdout, stderr, opts, ref, decision, len(cs.Paths))
	}

	exitCode := 0
	if !opts.DryRun {
		cfg := runner.ExecutionConfig{Interactive: opts.Interactive, CIMode: opts.CIMode}
		code, execErr := runner.Execute(ctx, p.Runner, decision, opts.Target, ref.Base, ref.Head, opts.ForwardedArgs, cfg)
		if execErr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", execErr)
			code = 1
		}
		exitCode = code
	}

	rec := telemetry.NewRecord(decision, opts.Target, len(cs.Paths), time.Since(start), exitCode)
	p.Recorder.Record(ctx, rec)

	return Result{Ref: ref, Decision: decision, ChangedCount: len(cs.Paths), ExitCode: exitCode}
}

func (p *Pipeline) stdout() io.Writer {
	if p.Stdout != nil {
		return p.Stdout
	}
	return os.Stdout
}

func (p *Pipeline) stderr() io.Writer {
	if p.Stderr != nil {
		return p.Stderr
	}
	return os.Stderr
}
