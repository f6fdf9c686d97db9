// Package runner invokes the external task runner with the decided
// project scope. Execution is non-interactive by default so headless
// automation can never hang on a prompt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/scopeguard/scopeguard/internal/strategy"
)

// ExecutionConfig is passed explicitly instead of mutating ambient
// process state, so tests can construct configs directly.
type ExecutionConfig struct {
	// Interactive opts back into interactive execution. Off by default.
	Interactive bool

	// CIMode marks the child environment as CI regardless of where the
	// process actually runs.
	CIMode bool
}

// Scope names the project set the task runner should cover.
type Scope struct {
	// All runs every project; Projects is ignored when set.
	All bool

	Projects []string
}

// TaskRunner is the narrow interface to the external runner.
type TaskRunner interface {
	// Run executes target over scope and returns the runner's exit
	// code. The error is only non-nil when the runner could not be
	// spawned at all.
	Run(ctx context.Context, target string, scope Scope, base, head string, forwarded []string, cfg ExecutionConfig) (int, error)
}

// Execute applies a Decision: Skip returns success without spawning
// anything, Affected runs the scoped project set, FullFallback runs
// everything. The runner's exit code is propagated verbatim.
func Execute(ctx context.Context, r TaskRunner, d strategy.Decision, target, base, head string, forwarded []string, cfg ExecutionConfig) (int, error) {
	switch d.Strategy {
	case strategy.Skip:
		return 0, nil
	case strategy.Affected:
		return r.Run(ctx, target, Scope{Projects: d.Projects}, base, head, forwarded, cfg)
	case strategy.FullFallback:
		return r.Run(ctx, target, Scope{All: true}, base, head, forwarded, cfg)
	default:
		return 1, fmt.Errorf("unknown strategy %q", d.Strategy)
	}
}

// CLIRunner shells out to the workspace tool (nx-compatible CLI).
type CLIRunner struct {
	// Tool is the task runner binary, e.g. "nx".
	Tool string

	// WorkDir is the monorepo root.
	WorkDir string

	// Stdout and Stderr receive the child's output; nil means the
	// parent's streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Run spawns the task runner and waits for it. Interrupting the parent
// terminates the child through the shared process group.
func (r *CLIRunner) Run(ctx context.Context, target string, scope Scope, base, head string, forwarded []string, cfg ExecutionConfig) (int, error) {
	args := buildArgs(target, scope, base, head, forwarded)

	cmd := exec.CommandContext(ctx, r.Tool, args...)
	cmd.Dir = r.WorkDir
	cmd.Env = childEnv(os.Environ(), cfg)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if cfg.Interactive {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, fmt.Errorf("failed to run %s: %w", r.Tool, err)
	}
	return 0, nil
}

// buildArgs assembles the runner command line. The base/head pair is
// always forwarded so the runner can recompute affected status
// redundantly if it wants to.
func buildArgs(target string, scope Scope, base, head string, forwarded []string) []string {
	args := []string{"run-many", "--target", target}
	if scope.All {
		args = append(args, "--all")
	} else {
		args = append(args, "--projects", strings.Join(scope.Projects, ","))
	}
	if base != "" {
		args = append(args, "--base", base)
	}
	if head != "" {
		args = append(args, "--head", head)
	}
	if len(forwarded) > 0 {
		args = append(args, forwarded...)
	}
	return args
}

// childEnv forces CI-safe execution unless interactive mode was
// explicitly requested.
func childEnv(env []string, cfg ExecutionConfig) []string {
	out := append([]string(nil), env...)
	if cfg.CIMode || !cfg.Interactive {
		out = append(out, "CI=true")
	}
	return out
}
