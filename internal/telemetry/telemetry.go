// Package telemetry records the decision each invocation made and how
// it went. Recording is strictly best-effort: a failure to persist a
// record is logged and swallowed, never surfaced as a process failure.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/scopeguard/scopeguard/internal/strategy"
)

// DefaultPath is where the JSON decision record lands unless overridden.
const DefaultPath = ".scopeguard/metrics.json"

// Record is one invocation's decision and outcome.
type Record struct {
	RunID        string    `json:"runId"`
	Target       string    `json:"target"`
	Strategy     string    `json:"strategy"`
	Reason       string    `json:"reason,omitempty"`
	Skipped      bool      `json:"skipped"`
	ChangedCount int       `json:"changedCount"`
	ProjectCount int       `json:"projectCount"`
	DurationMs   int64     `json:"durationMs"`
	ExitCode     int       `json:"exitCode"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewRecord builds a Record from a decision and its runtime facts.
func NewRecord(d strategy.Decision, target string, changedCount int, duration time.Duration, exitCode int) Record {
	return Record{
		RunID:        uuid.NewString(),
		Target:       target,
		Strategy:     string(d.Strategy),
		Reason:       string(d.Reason),
		Skipped:      d.Skipped(),
		ChangedCount: changedCount,
		ProjectCount: len(d.Projects),
		DurationMs:   duration.Milliseconds(),
		ExitCode:     exitCode,
		Timestamp:    time.Now().UTC(),
	}
}

// Recorder persists records to a JSON artifact and forwards them to the
// optional metrics sink and history store.
type Recorder struct {
	// Path is the JSON artifact location. Empty means DefaultPath.
	Path string

	// Sink receives metric datapoints. Defaults to a no-op.
	Sink MetricsSink

	// History is the optional local run history. Nil disables it.
	History *History

	// Log receives write-failure notices; nil disables logging.
	Log io.Writer
}

// Record persists rec everywhere it can. Every failure is swallowed;
// the caller's exit code is never affected by telemetry.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	path := r.Path
	if path == "" {
		path = DefaultPath
	}
	if err := writeJSON(path, rec); err != nil {
		r.logf("failed to write telemetry to %s: %v", path, err)
	}

	if r.Sink != nil {
		r.Sink.RecordRun(ctx, rec)
	}

	if r.History != nil {
		if err := r.History.Append(ctx, rec); err != nil {
			r.logf("failed to append telemetry history: %v", err)
		}
	}
}

// writeJSON writes the record, creating the parent directory as
// needed. The write is non-atomic: concurrent invocations last-writer-
// win, which is acceptable for a best-effort artifact.
func writeJSON(path string, rec Record) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create telemetry directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry record: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write telemetry record: %w", err)
	}
	return nil
}

func (r *Recorder) logf(format string, args ...interface{}) {
	if r.Log == nil {
		return
	}
	fmt.Fprintf(r.Log, "telemetry: "+format+"\n", args...)
}
