// Package postgres provides a pgx-backed run store for shared deployments.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/record"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists runs, records, summaries, and timelines in Postgres.
type Store struct {
	pool dbPool
}

// New connects to Postgres using the provided config and ensures the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing). The schema is assumed to exist.
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			error_text TEXT NOT NULL DEFAULT '',
			params JSONB NOT NULL,
			lines BIGINT NOT NULL DEFAULT 0,
			records BIGINT NOT NULL DEFAULT 0,
			parse_failures BIGINT NOT NULL DEFAULT 0,
			feature_rows BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS run_records (
			run_id TEXT NOT NULL,
			row_index BIGINT NOT NULL,
			ip TEXT NOT NULL,
			ts_day INT NOT NULL,
			ts_hour INT NOT NULL,
			ts_minute INT NOT NULL,
			ts_second INT NOT NULL,
			method TEXT NOT NULL,
			resource TEXT NOT NULL,
			protocol TEXT NOT NULL,
			status INT NOT NULL,
			bytes BIGINT,
			url_length INT NOT NULL,
			cluster_k3 INT,
			cluster_k6 INT,
			PRIMARY KEY (run_id, row_index)
		)`,
		`CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			summary JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			k INT NOT NULL DEFAULT 0,
			lines BIGINT NOT NULL DEFAULT 0,
			records BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			note TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_submitted ON runs (submitted_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events (run_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *Store) CreateRun(ctx context.Context, run analysis.Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal run params: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs
		(id, status, submitted_at, started_at, finished_at, error_text, params,
		 lines, records, parse_failures, feature_rows)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, string(run.Status), run.Submitted, run.Started, run.Finished,
		run.ErrorText, paramsJSON,
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			status = $1,
			error_text = $2,
			lines = $3,
			records = $4,
			parse_failures = $5,
			feature_rows = $6,
			started_at = CASE WHEN $1 = 'running' AND started_at IS NULL THEN $7 ELSE started_at END,
			finished_at = CASE WHEN $1 IN ('succeeded', 'failed') THEN $7 ELSE finished_at END
		WHERE id = $8`,
		string(status), errText,
		counters.Lines, counters.Records, counters.ParseFailures, counters.FeatureRows,
		time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return analysis.ErrRunNotFound
	}
	return nil
}

// PutRecords replaces the record set for a run inside one transaction.
func (s *Store) PutRecords(ctx context.Context, runID string, records []record.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin records tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM run_records WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear run records: %w", err)
	}
	for i, rec := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_records
			(run_id, row_index, ip, ts_day, ts_hour, ts_minute, ts_second,
			 method, resource, protocol, status, bytes, url_length, cluster_k3, cluster_k6)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			runID, i, rec.IP,
			rec.Timestamp.Day, rec.Timestamp.Hour, rec.Timestamp.Minute, rec.Timestamp.Second,
			rec.Method, rec.Resource, rec.Protocol, rec.Status,
			rec.Bytes, rec.URLLength, rec.ClusterK3, rec.ClusterK6,
		)
		if err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}
	return nil
}

// PutSummary upserts the summary for a run.
func (s *Store) PutSummary(ctx context.Context, runID string, summary analysis.Summary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO run_summaries (run_id, summary) VALUES ($1, $2)
		ON CONFLICT (run_id) DO UPDATE SET summary = EXCLUDED.summary`,
		runID, summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// AppendEvents appends timeline entries for a run inside one transaction.
func (s *Store) AppendEvents(ctx context.Context, runID string, entries []analysis.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin events tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, entry := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_events (run_id, stage, ts, k, lines, records, failures, duration_ms, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			runID, entry.Stage, entry.TS, entry.K,
			entry.Lines, entry.Records, entry.Failures, entry.DurationMs, entry.Note,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (analysis.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, params,
		       lines, records, parse_failures, feature_rows
		FROM runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, submitted_at, started_at, finished_at, error_text, params,
		       lines, records, parse_failures, feature_rows
		FROM runs ORDER BY submitted_at DESC, id DESC LIMIT $1 OFFSET $2`, limitArg, offset)
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
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ip, ts_day, ts_hour, ts_minute, ts_second, method, resource, protocol,
		       status, bytes, url_length, cluster_k3, cluster_k6
		FROM run_records WHERE run_id = $1 ORDER BY row_index LIMIT $2 OFFSET $3`,
		runID, limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()

	out := []record.Record{}
	for rows.Next() {
		var rec record.Record
		err := rows.Scan(
			&rec.IP,
			&rec.Timestamp.Day, &rec.Timestamp.Hour, &rec.Timestamp.Minute, &rec.Timestamp.Second,
			&rec.Method, &rec.Resource, &rec.Protocol,
			&rec.Status, &rec.Bytes, &rec.URLLength, &rec.ClusterK3, &rec.ClusterK6,
		)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
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
	var summaryJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM run_summaries WHERE run_id = $1`, runID).Scan(&summaryJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return analysis.Summary{}, analysis.ErrRunNotFound
	}
	if err != nil {
		return analysis.Summary{}, fmt.Errorf("select summary: %w", err)
	}
	var summary analysis.Summary
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		return analysis.Summary{}, fmt.Errorf("unmarshal summary: %w", err)
	}
	return summary, nil
}

// ListEvents returns all timeline entries for a run in append order.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]analysis.TimelineEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT stage, ts, k, lines, records, failures, duration_ms, note
		FROM run_events WHERE run_id = $1 ORDER BY id`, runID)
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

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanRun(row pgx.Row) (analysis.Run, error) {
	var run analysis.Run
	var status string
	var paramsJSON []byte
	err := row.Scan(
		&run.ID, &status, &run.Submitted, &run.Started, &run.Finished, &run.ErrorText, &paramsJSON,
		&run.Counters.Lines, &run.Counters.Records, &run.Counters.ParseFailures, &run.Counters.FeatureRows,
	)
	if err != nil {
		return analysis.Run{}, err
	}
	run.Status = analysis.Status(status)
	if err := json.Unmarshal(paramsJSON, &run.Params); err != nil {
		return analysis.Run{}, fmt.Errorf("unmarshal run params: %w", err)
	}
	return run, nil
}
