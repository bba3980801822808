// Package sqlite provides a file-backed run store, the default for local
// single-machine use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/record"
)

// Store persists runs, records, summaries, and timelines in a SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	// WAL lets the serve API read while an analyze run is writing; the busy
	// timeout covers writer contention between the service and the store sink.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		submitted_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		error_text TEXT NOT NULL DEFAULT '',
		params_json TEXT NOT NULL,
		lines INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0,
		parse_failures INTEGER NOT NULL DEFAULT 0,
		feature_rows INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_records (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		ip TEXT NOT NULL,
		ts_day INTEGER NOT NULL,
		ts_hour INTEGER NOT NULL,
		ts_minute INTEGER NOT NULL,
		ts_second INTEGER NOT NULL,
		method TEXT NOT NULL,
		resource TEXT NOT NULL,
		protocol TEXT NOT NULL,
		status INTEGER NOT NULL,
		bytes INTEGER,
		url_length INTEGER NOT NULL,
		cluster_k3 INTEGER,
		cluster_k6 INTEGER,
		PRIMARY KEY (run_id, row_index)
	);

	CREATE TABLE IF NOT EXISTS run_summaries (
		run_id TEXT PRIMARY KEY,
		summary_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		ts DATETIME NOT NULL,
		k INTEGER NOT NULL DEFAULT 0,
		lines INTEGER NOT NULL DEFAULT 0,
		records INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_submitted ON runs(submitted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run analysis.Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, status, submitted_at, started_at, finished_at, error_text, params_json,
		 lines, records, parse_failures, feature_rows)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Submitted, nullableTime(run.Started), nullableTime(run.Finished),
		run.ErrorText, string(paramsJSON),
		run.Counters.Lines, run.Counters.Records, run.Counters.ParseFailures, run.Counters.FeatureRows,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus updates the status, error text, and counters for a run,
// stamping Started on the running transition and Finished on terminal ones.
func (s *Store) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status analysis.Status,
	errText string,
	counters analysis.Counters,
) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			error_text = ?,
			lines = ?,
			records = ?,
			parse_failures = ?,
			feature_rows = ?,
			started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN ? ELSE started_at END,
			finished_at = CASE WHEN ? IN ('succeeded', 'failed') THEN ? ELSE finished_at END
		WHERE id = ?`,
		string(status), errText,
		counters.Lines, counters.Records, counters.ParseFailures, counters.FeatureRows,
		string(status), now, string(status), now, runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if affected == 0 {
		return analysis.ErrRunNotFound
	}
	return nil
}

// PutRecords replaces the record set for a run.
func (s *Store) PutRecords(ctx context.Context, runID string, records []record.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin records tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_records WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear run records: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_records
		(run_id, row_index, ip, ts_day, ts_hour, ts_minute, ts_second,
		 method, resource, protocol, status, bytes, url_length, cluster_k3, cluster_k6)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare record insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		_, err := stmt.ExecContext(ctx,
			runID, i, rec.IP,
			rec.Timestamp.Day, rec.Timestamp.Hour, rec.Timestamp.Minute, rec.Timestamp.Second,
			rec.Method, rec.Resource, rec.Protocol, rec.Status,
			nullableInt64(rec.Bytes), rec.URLLength,
			nullableInt(rec.ClusterK3), nullableInt(rec.ClusterK6),
		)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// PutSummary replaces the summary for a run.
func (s *Store) PutSummary(ctx context.Context, runID string, summary analysis.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, summary_json) VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET summary_json = excluded.summary_json`,
		runID, string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// AppendEvents appends timeline entries for a run.
func (s *Store) AppendEvents(ctx context.Context, runID string, entries []analysis.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin events tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_events (run_id, stage, ts, k, lines, records, failures, duration_ms, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		_, err := stmt.ExecContext(ctx,
			runID, entry.Stage, entry.TS, entry.K,
			entry.Lines, entry.Records, entry.Failures, entry.DurationMs, entry.Note,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (analysis.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, params_json,
		       lines, records, parse_failures, feature_rows
		FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Run{}, analysis.ErrRunNotFound
	}
	if err != nil {
		return analysis.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest-first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, offset, limit int) ([]analysis.Run, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, params_json,
		       lines, records, parse_failures, feature_rows
		FROM runs ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer rows.Close()

	out := []analysis.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ListRecords returns a window of the run's records in input order.
func (s *Store) ListRecords(ctx context.Context, runID string, offset, limit int) ([]record.Record, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ip, ts_day, ts_hour, ts_minute, ts_second, method, resource, protocol,
		       status, bytes, url_length, cluster_k3, cluster_k6
		FROM run_records WHERE run_id = ? ORDER BY row_index LIMIT ? OFFSET ?`,
		runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		var rec record.Record
		var bytes, k3, k6 sql.NullInt64
		err := rows.Scan(
			&rec.IP,
			&rec.Timestamp.Day, &rec.Timestamp.Hour, &rec.Timestamp.Minute, &rec.Timestamp.Second,
			&rec.Method, &rec.Resource, &rec.Protocol,
			&rec.Status, &bytes, &rec.URLLength, &k3, &k6,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if bytes.Valid {
			v := bytes.Int64
			rec.Bytes = &v
		}
		if k3.Valid {
			v := int(k3.Int64)
			rec.ClusterK3 = &v
		}
		if k6.Valid {
			v := int(k6.Int64)
			rec.ClusterK6 = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// GetSummary fetches the summary for a run.
func (s *Store) GetSummary(ctx context.Context, runID string) (analysis.Summary, error) {
	var summaryJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_json FROM run_summaries WHERE run_id = ?`, runID).Scan(&summaryJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Summary{}, analysis.ErrRunNotFound
	}
	if err != nil {
		return analysis.Summary{}, fmt.Errorf("select summary: %w", err)
	}
	var summary analysis.Summary
	if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
		return analysis.Summary{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	return summary, nil
}

// ListEvents returns all timeline entries for a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]analysis.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, ts, k, lines, records, failures, duration_ms, note
		FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	out := []analysis.TimelineEntry{}
	for rows.Next() {
		var entry analysis.TimelineEntry
		err := rows.Scan(&entry.Stage, &entry.TS, &entry.K,
			&entry.Lines, &entry.Records, &entry.Failures, &entry.DurationMs, &entry.Note)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (analysis.Run, error) {
	var run analysis.Run
	var status, paramsJSON string
	var started, finished sql.NullTime
	err := row.Scan(
		&run.ID, &status, &run.Submitted, &started, &finished, &run.ErrorText, &paramsJSON,
		&run.Counters.Lines, &run.Counters.Records, &run.Counters.ParseFailures, &run.Counters.FeatureRows,
	)
	if err != nil {
		return analysis.Run{}, err
	}
	run.Status = analysis.Status(status)
	if started.Valid {
		t := started.Time
		run.Started = &t
	}
	if finished.Valid {
		t := finished.Time
		run.Finished = &t
	}
	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return analysis.Run{}, fmt.Errorf("unmarshal run params: %w", err)
	}
	return run, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
