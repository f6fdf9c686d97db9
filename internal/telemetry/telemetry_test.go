package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scopeguard/scopeguard/internal/strategy"
)

func TestNewRecord(t *testing.T) {
	d := strategy.Decision{
		Strategy: strategy.Skip,
		Reason:   strategy.ReasonDocOnly,
	}
	rec := NewRecord(d, "build", 3, 1500*time.Millisecond, 0)

	assert.NotEmpty(t, rec.RunID)
	assert.Equal(t, "build", rec.Target)
	assert.Equal(t, "skip", rec.Strategy)
	assert.Equal(t, "doc-only", rec.Reason)
	assert.True(t, rec.Skipped)
	assert.Equal(t, 3, rec.ChangedCount)
	assert.Equal(t, 0, rec.ProjectCount)
	assert.Equal(t, int64(1500), rec.DurationMs)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestRecorderWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.json")
	r := &Recorder{Path: path, Sink: NopSink{}}

	d := strategy.Decision{Strategy: strategy.Affected, Projects: []string{"pkg-a"}}
	rec := NewRecord(d, "test", 2, 10*time.Millisecond, 0)
	r.Record(context.Background(), rec)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed Record
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, rec.RunID, parsed.RunID)
	assert.Equal(t, "test", parsed.Target)
	assert.Equal(t, "affected", parsed.Strategy)
	assert.Equal(t, 1, parsed.ProjectCount)
	assert.False(t, parsed.Skipped)
}

func TestRecorderSwallowsWriteFailure(t *testing.T) {
	// Parent "directory" is a regular file: the write must fail, be
	// logged, and not panic or error out.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	var log bytes.Buffer
	r := &Recorder{Path: filepath.Join(blocker, "metrics.json"), Log: &log}
	r.Record(context.Background(), NewRecord(strategy.Decision{Strategy: strategy.Skip}, "build", 0, 0, 0))

	assert.Contains(t, log.String(), "failed to write telemetry")
}

func TestHistoryAppendAndSummarize(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	records := []Record{
		NewRecord(strategy.Decision{Strategy: strategy.Skip, Reason: strategy.ReasonDocOnly}, "build", 1, 5*time.Millisecond, 0),
		NewRecord(strategy.Decision{Strategy: strategy.Skip, Reason: strategy.ReasonNoAffected}, "build", 2, 15*time.Millisecond, 0),
		NewRecord(strategy.Decision{Strategy: strategy.Affected, Projects: []string{"a", "b"}}, "test", 4, 30*time.Second, 1),
	}
	for _, rec := range records {
		require.NoError(t, h.Append(ctx, rec))
	}

	summaries, err := h.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	// Stable ordering by target, strategy, reason; the two skip reasons
	// stay distinguishable.
	assert.Equal(t, "build", summaries[0].Target)
	assert.Equal(t, "skip", summaries[0].Strategy)
	assert.Equal(t, "doc-only", summaries[0].Reason)
	assert.Equal(t, 1, summaries[0].Runs)

	assert.Equal(t, "no-affected", summaries[1].Reason)

	assert.Equal(t, "test", summaries[2].Target)
	assert.Equal(t, "affected", summaries[2].Strategy)
	assert.InDelta(t, 30000, summaries[2].AvgDurationMs, 0.1)
}

func TestHistoryDuplicateRunID(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	rec := NewRecord(strategy.Decision{Strategy: strategy.Skip}, "build", 0, 0, 0)
	require.NoError(t, h.Append(ctx, rec))
	assert.Error(t, h.Append(ctx, rec), "duplicate primary key must surface as an error")
}

func TestHistoryPrune(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	old := NewRecord(strategy.Decision{Strategy: strategy.Affected, Projects: []string{"a"}}, "build", 1, time.Second, 0)
	old.Timestamp = time.Now().AddDate(0, 0, -200)
	recent := NewRecord(strategy.Decision{Strategy: strategy.Affected, Projects: []string{"a"}}, "build", 1, time.Second, 0)
	require.NoError(t, h.Append(ctx, old))
	require.NoError(t, h.Append(ctx, recent))

	deleted, err := h.Prune(ctx, PruneOptions{MaxAgeDays: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	summaries, err := h.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].Runs)
}

func TestHistoryPruneRowCap(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	// Insert with spread-out timestamps so the cap keeps the newest.
	for i := 0; i < 10; i++ {
		rec := NewRecord(strategy.Decision{Strategy: strategy.Skip, Reason: strategy.ReasonDocOnly}, "lint", 0, 0, 0)
		rec.Timestamp = time.Now().Add(time.Duration(-i) * time.Hour)
		require.NoError(t, h.Append(ctx, rec))
	}

	deleted, err := h.Prune(ctx, PruneOptions{MaxRows: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	summaries, err := h.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 4, summaries[0].Runs)
}

func TestHistoryPruneDisabled(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	rec := NewRecord(strategy.Decision{Strategy: strategy.Skip}, "build", 0, 0, 0)
	require.NoError(t, h.Append(ctx, rec))

	deleted, err := h.Prune(ctx, PruneOptions{})
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestNopSink(t *testing.T) {
	var s MetricsSink = NopSink{}
	s.RecordRun(context.Background(), Record{})
	assert.NoError(t, s.Shutdown(context.Background()))
}
