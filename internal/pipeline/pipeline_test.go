package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/changeset"
	"github.com/scopeguard/scopeguard/internal/graph"
	"github.com/scopeguard/scopeguard/internal/revision"
	"github.com/scopeguard/scopeguard/internal/runner"
	"github.com/scopeguard/scopeguard/internal/strategy"
	"github.com/scopeguard/scopeguard/internal/telemetry"
)

// fakeVCS serves a fixed diff.
type fakeVCS struct {
	paths []string
}

func (f *fakeVCS) DiffNameOnly(ctx context.Context, base, head string) ([]string, error) {
	return f.paths, nil
}
func (f *fakeVCS) HasRevision(ctx context.Context, ref string) bool { return true }
func (f *fakeVCS) FetchShallow(ctx context.Context, ref string) bool { return true }

// fakeGraph is a scripted graph provider.
type fakeGraph struct {
	affected    []string
	affectedErr error
	full        *graph.Graph
}

func (f *fakeGraph) Affected(ctx context.Context, base, head, target string) ([]string, error) {
	if f.affectedErr != nil {
		return nil, f.affectedErr
	}
	return append([]string(nil), f.affected...), nil
}

func (f *fakeGraph) FullGraph(ctx context.Context) (*graph.Graph, error) {
	if f.full == nil {
		return graph.NewGraph(nil, nil), nil
	}
	return f.full, nil
}

// fakeTaskRunner records invocations.
type fakeTaskRunner struct {
	called   bool
	scope    runner.Scope
	exitCode int
}

func (f *fakeTaskRunner) Run(ctx context.Context, target string, scope runner.Scope, base, head string, forwarded []string, cfg runner.ExecutionConfig) (int, error) {
	f.called = true
	f.scope = scope
	return f.exitCode, nil
}

type fixture struct {
	pipeline *Pipeline
	runner   *fakeTaskRunner
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
	metrics  string
}

func newFixture(t *testing.T, vcs *fakeVCS, provider *fakeGraph) *fixture {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	tr := &fakeTaskRunner{}
	metrics := filepath.Join(t.TempDir(), "metrics.json")

	return &fixture{
		pipeline: &Pipeline{
			Resolver: &revision.Resolver{OverrideBase: "origin/main"},
			Changes: &changeset.Provider{
				VCS:        vcs,
				Classifier: changeset.DefaultClassifier(),
				AllowFetch: true,
			},
			Selector: &strategy.Selector{Graph: provider},
			Runner:   tr,
			Recorder: &telemetry.Recorder{Path: metrics, Sink: telemetry.NopSink{}},
			Stdout:   stdout,
			Stderr:   stderr,
		},
		runner:  tr,
		stdout:  stdout,
		stderr:  stderr,
		metrics: metrics,
	}
}

func (f *fixture) readRecord(t *testing.T) telemetry.Record {
	t.Helper()
	data, err := os.ReadFile(f.metrics)
	require.NoError(t, err)
	var rec telemetry.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

// Scenario A: doc-only change set skips with reason doc-only, exit 0.
func TestRunDocOnlySkips(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: []string{"README.md"}}, &fakeGraph{})

	res := f.pipeline.Run(context.Background(), Options{Target: "build"})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, strategy.Skip, res.Decision.Strategy)
	assert.Equal(t, strategy.ReasonDocOnly, res.Decision.Reason)
	assert.False(t, f.runner.called, "skip must not invoke the task runner")

	rec := f.readRecord(t)
	assert.Equal(t, "skip", rec.Strategy)
	assert.Equal(t, "doc-only", rec.Reason)
	assert.True(t, rec.Skipped)
	assert.Equal(t, 1, rec.ChangedCount)
}

// Scenario C: graph timeout falls back to full scope.
func TestRunGraphFailureFullFallback(t *testing.T) {
	provider := &fakeGraph{affectedErr: &graph.QueryError{Kind: graph.KindTimeout, Tool: "nx", Err: errors.New("deadline")}}
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, provider)

	res := f.pipeline.Run(context.Background(), Options{Target: "test"})

	assert.Equal(t, strategy.FullFallback, res.Decision.Strategy)
	assert.Equal(t, strategy.ReasonGraphQueryFailed, res.Decision.Reason)
	assert.True(t, f.runner.called)
	assert.True(t, f.runner.scope.All, "fallback scope is all projects")
}

// Scenario D: source-relevant changes but no affected projects skips.
func TestRunNoAffectedSkips(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, &fakeGraph{affected: []string{}})

	res := f.pipeline.Run(context.Background(), Options{Target: "build"})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, strategy.Skip, res.Decision.Strategy)
	assert.Equal(t, strategy.ReasonNoAffected, res.Decision.Reason)
	assert.False(t, f.runner.called)

	rec := f.readRecord(t)
	assert.Equal(t, "no-affected", rec.Reason, "skip reasons stay distinguishable in telemetry")
}

// Scenario B: focus narrows with a dependency-omission warning.
func TestRunFocusNonStrict(t *testing.T) {
	provider := &fakeGraph{
		affected: []string{"pkg-a", "pkg-b"},
		full:     graph.NewGraph(nil, map[string][]string{"pkg-a": {"pkg-b"}}),
	}
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, provider)

	res := f.pipeline.Run(context.Background(), Options{Target: "build", Focus: []string{"pkg-a"}})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"pkg-a"}, res.Decision.Projects)
	require.Len(t, res.Decision.Warnings, 1)
	assert.Contains(t, res.Decision.Warnings[0], "pkg-a -> pkg-b")
	assert.Contains(t, f.stderr.String(), "pkg-a -> pkg-b")
	assert.Equal(t, []string{"pkg-a"}, f.runner.scope.Projects)
}

// Scenario B, strict: the omission is fatal with a non-zero exit.
func TestRunFocusStrictFails(t *testing.T) {
	provider := &fakeGraph{
		affected: []string{"pkg-a", "pkg-b"},
		full:     graph.NewGraph(nil, map[string][]string{"pkg-a": {"pkg-b"}}),
	}
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, provider)

	res := f.pipeline.Run(context.Background(), Options{
		Target:      "build",
		Focus:       []string{"pkg-a"},
		StrictFocus: true,
	})

	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, f.runner.called)
	assert.Contains(t, f.stderr.String(), "pkg-a -> pkg-b")

	rec := f.readRecord(t)
	assert.Equal(t, "focus-validation-failed", rec.Reason)
}

func TestRunDryRunSkipsExecution(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, &fakeGraph{affected: []string{"pkg-a"}})

	res := f.pipeline.Run(context.Background(), Options{Target: "build", DryRun: true})

	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, f.runner.called)
	assert.Contains(t, f.stdout.String(), "Dry run")

	// Telemetry still written on the dry-run path.
	rec := f.readRecord(t)
	assert.Equal(t, "affected", rec.Strategy)
}

func TestRunExitCodePropagated(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, &fakeGraph{affected: []string{"pkg-a"}})
	f.runner.exitCode = 5

	res := f.pipeline.Run(context.Background(), Options{Target: "test"})

	assert.Equal(t, 5, res.ExitCode)
	rec := f.readRecord(t)
	assert.Equal(t, 5, rec.ExitCode)
}

func TestRunJSONOutputRoundTrip(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, &fakeGraph{affected: []string{"pkg-a", "pkg-b"}})

	f.pipeline.Run(context.Background(), Options{Target: "build", DryRun: true, JSONOutput: true})

	var out struct {
		Target string `json:"target"`
		strategy.Decision
		ChangedCount int  `json:"changedCount"`
		Skipped      bool `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &out))
	assert.Equal(t, "build", out.Target)
	assert.Equal(t, strategy.Affected, out.Strategy)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, out.Projects)
	assert.Empty(t, out.Reason)
	assert.False(t, out.Skipped)
	assert.Equal(t, 1, out.ChangedCount)
}

func TestRunNoHistoryFullFallback(t *testing.T) {
	f := newFixture(t, &fakeVCS{paths: nil}, &fakeGraph{})
	f.pipeline.Resolver = &revision.Resolver{RepoRoot: t.TempDir()}
	f.pipeline.HasHistory = func(ctx context.Context) bool { return false }

	res := f.pipeline.Run(context.Background(), Options{Target: "build"})

	assert.Equal(t, strategy.FullFallback, res.Decision.Strategy)
	assert.Equal(t, strategy.ReasonNoHistory, res.Decision.Reason)
	assert.True(t, f.runner.scope.All)
}

func TestRunIdempotent(t *testing.T) {
	provider := &fakeGraph{affected: []string{"pkg-a", "pkg-b"}}
	f := newFixture(t, &fakeVCS{paths: []string{"src/lib.ts"}}, provider)

	first := f.pipeline.Run(context.Background(), Options{Target: "build", DryRun: true})
	second := f.pipeline.Run(context.Background(), Options{Target: "build", DryRun: true})

	assert.Equal(t, first.Decision, second.Decision)
}
