// Package ledger records batch runs in a local SQLite database so that
// staged artifacts left behind by crashed or timed-out runs can be found
// and swept later.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/docbatch/internal/batch"
	"github.com/Lllllllleong/docbatch/internal/models"
	_ "modernc.org/sqlite"
)

// Ledger is a batch.Recorder backed by SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	const ddl = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS runs (
    run_id          TEXT PRIMARY KEY,
    provider        TEXT NOT NULL,
    source_name     TEXT NOT NULL DEFAULT '',
    bucket          TEXT NOT NULL DEFAULT '',
    input_key       TEXT NOT NULL DEFAULT '',
    output_prefix   TEXT NOT NULL DEFAULT '',
    job_id          TEXT NOT NULL DEFAULT '',
    job_operation   TEXT NOT NULL DEFAULT '',
    state           TEXT NOT NULL,
    error_code      TEXT NOT NULL DEFAULT '',
    error_details   TEXT NOT NULL DEFAULT '',
    page_count      INTEGER NOT NULL DEFAULT 0,
    part_count      INTEGER NOT NULL DEFAULT 0,
    keep_input      INTEGER NOT NULL DEFAULT 0,
    keep_output     INTEGER NOT NULL DEFAULT 0,
    input_released  INTEGER NOT NULL DEFAULT 0,
    output_released INTEGER NOT NULL DEFAULT 0,
    warnings        TEXT NOT NULL DEFAULT '',
    deadline        TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state, updated_at);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return err
	}
	// Ledgers created before the deadline column existed.
	var n int
	if err := l.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = 'deadline'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err := l.db.Exec(`ALTER TABLE runs ADD COLUMN deadline TEXT NOT NULL DEFAULT ''`)
		return err
	}
	return nil
}

// Record upserts the run row. Empty fields never overwrite known values.
func (l *Ledger) Record(ctx context.Context, t batch.Transition) error {
	rec := t.RunRecord()
	at := formatTime(t.At)
	_, err := l.db.ExecContext(ctx, `
INSERT INTO runs (run_id, provider, source_name, bucket, input_key, output_prefix, job_id, job_operation,
                  state, error_code, error_details, page_count, part_count, keep_input, keep_output,
                  input_released, output_released, warnings, deadline, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
    input_key       = COALESCE(NULLIF(excluded.input_key, ''), input_key),
    output_prefix   = COALESCE(NULLIF(excluded.output_prefix, ''), output_prefix),
    job_id          = COALESCE(NULLIF(excluded.job_id, ''), job_id),
    job_operation   = COALESCE(NULLIF(excluded.job_operation, ''), job_operation),
    state           = excluded.state,
    error_code      = excluded.error_code,
    error_details   = excluded.error_details,
    part_count      = MAX(part_count, excluded.part_count),
    input_released  = MAX(input_released, excluded.input_released),
    output_released = MAX(output_released, excluded.output_released),
    warnings        = excluded.warnings,
    deadline        = COALESCE(NULLIF(excluded.deadline, ''), deadline),
    updated_at      = excluded.updated_at`,
		rec.RunID, rec.Provider, rec.SourceName, rec.Bucket, rec.InputKey, rec.OutputPrefix, rec.JobID, rec.JobOperation,
		rec.State, rec.ErrorCode, rec.ErrorDetails, rec.PageCount, rec.PartCount, rec.KeepInput, rec.KeepOutput,
		rec.InputReleased, rec.OutputReleased, strings.Join(rec.Warnings, "\n"), formatDeadline(rec.Deadline), at, at,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s at %s: %w", t.RunID, t.State, err)
	}
	return nil
}

// Get returns one run, or nil when it is unknown.
func (l *Ledger) Get(ctx context.Context, runID string) (*models.RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectRuns+` WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	recs, err := scanRuns(rows)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

// Orphans returns runs that still own staged artifacts: finished runs whose
// cleanup did not complete, and unfinished runs not touched since before
// staleBefore (the process running them is presumed dead). An unfinished run
// whose wait deadline is not before staleBefore may still be polling a live
// job and is never returned.
func (l *Ledger) Orphans(ctx context.Context, staleBefore time.Time) ([]models.RunRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectRuns+`
 WHERE ((input_key != '' AND keep_input = 0 AND input_released = 0)
     OR (output_prefix != '' AND keep_output = 0 AND output_released = 0))
   AND (state = ? OR (updated_at < ? AND (deadline = '' OR deadline < ?)))
 ORDER BY created_at`, string(batch.StateDone), formatTime(staleBefore), formatTime(staleBefore))
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	return scanRuns(rows)
}

// MarkReleased stores the outcome of a later sweep.
func (l *Ledger) MarkReleased(ctx context.Context, runID string, inputReleased, outputReleased bool, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
UPDATE runs SET input_released = MAX(input_released, ?), output_released = MAX(output_released, ?), updated_at = ?
 WHERE run_id = ?`, inputReleased, outputReleased, formatTime(at), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run %s released: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrUnknownRun)
	}
	return nil
}

// ErrUnknownRun is returned for run IDs the ledger has never seen.
var ErrUnknownRun = errors.New("unknown run")

const selectRuns = `
SELECT run_id, provider, source_name, bucket, input_key, output_prefix, job_id, job_operation, state,
       error_code, error_details, page_count, part_count, keep_input, keep_output, input_released,
       output_released, warnings, deadline, created_at, updated_at
  FROM runs`

func scanRuns(rows *sql.Rows) ([]models.RunRecord, error) {
	defer rows.Close()
	var out []models.RunRecord
	for rows.Next() {
		var r models.RunRecord
		var warnings, deadline, created, updated string
		if err := rows.Scan(&r.RunID, &r.Provider, &r.SourceName, &r.Bucket, &r.InputKey, &r.OutputPrefix,
			&r.JobID, &r.JobOperation, &r.State, &r.ErrorCode, &r.ErrorDetails, &r.PageCount, &r.PartCount,
			&r.KeepInput, &r.KeepOutput, &r.InputReleased, &r.OutputReleased, &warnings, &deadline, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if warnings != "" {
			r.Warnings = strings.Split(warnings, "\n")
		}
		if deadline != "" {
			r.Deadline = parseTime(deadline)
		}
		r.CreatedAt = parseTime(created)
		r.UpdatedAt = parseTime(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so that stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatDeadline(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
