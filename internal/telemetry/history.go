package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	target        TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	skipped       INTEGER NOT NULL DEFAULT 0,
	changed_count INTEGER NOT NULL DEFAULT 0,
	project_count INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	exit_code     INTEGER NOT NULL DEFAULT 0,
	recorded_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(target, strategy);
`

// History is a local append-only run log used for empirical tuning
// (e.g. deciding whether the graph provider is systematically wrong
// about no-affected skips). Like the JSON artifact it is best-effort.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the history database.
func OpenHistory(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close releases the underlying database handle.
func (h *History) Close() error {
	return h.db.Close()
}

// PruneOptions bounds the history database during Prune.
type PruneOptions struct {
	// MaxAgeDays deletes records older than this many days.
	MaxAgeDays int

	// MaxRows deletes the oldest records beyond this count. 0 disables
	// the row cap.
	MaxRows int

	// Vacuum reclaims disk space after deleting. Locks the database.
	Vacuum bool
}

// Prune enforces the retention bounds and returns how many records
// were deleted. Age first, then the row cap on what remains.
func (h *History) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	var deleted int64

	if opts.MaxAgeDays > 0 {
		// recorded_at carries a timezone offset; datetime() normalizes
		// both sides to UTC before comparing.
		res, err := h.db.ExecContext(ctx, `
			DELETE FROM runs
			WHERE datetime(recorded_at) < datetime('now', ?)`,
			fmt.Sprintf("-%d days", opts.MaxAgeDays))
		if err != nil {
			return deleted, fmt.Errorf("failed to prune old run records: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}

	if opts.MaxRows > 0 {
		res, err := h.db.ExecContext(ctx, `
			DELETE FROM runs
			WHERE run_id NOT IN (
				SELECT run_id FROM runs
				ORDER BY datetime(recorded_at) DESC
				LIMIT ?)`,
			opts.MaxRows)
		if err != nil {
			return deleted, fmt.Errorf("failed to enforce run history row cap: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			deleted += n
		}
	}

	if opts.Vacuum && deleted > 0 {
		if _, err := h.db.ExecContext(ctx, "VACUUM"); err != nil {
			return deleted, fmt.Errorf("failed to vacuum history database: %w", err)
		}
	}

	return deleted, nil
}

// Append inserts one record.
func (h *History) Append(ctx context.Context, rec Record) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, target, strategy, reason, skipped,
			changed_count, project_count, duration_ms, exit_code, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Target, rec.Strategy, rec.Reason, boolToInt(rec.Skipped),
		rec.ChangedCount, rec.ProjectCount, rec.DurationMs, rec.ExitCode,
		rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}
	return nil
}

// Summary aggregates the run history per target, strategy, and reason.
type Summary struct {
	Target        string
	Strategy      string
	Reason        string
	Runs          int
	AvgDurationMs float64
}

// Summarize returns per-target/strategy/reason aggregates in a stable
// order. Keeping skip reasons separate here is what makes a
// misbehaving graph provider visible over time.
func (h *History) Summarize(ctx context.Context) ([]Summary, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT target, strategy, reason, COUNT(*), AVG(duration_ms)
		FROM runs
		GROUP BY target, strategy, reason
		ORDER BY target, strategy, reason`)
	if err != nil {
		return nil, fmt.Errorf("failed to query run history: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.Target, &s.Strategy, &s.Reason, &s.Runs, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	return summaries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
