package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/record"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func sampleParams() analysis.Params {
	return analysis.Params{
		Source:          "access.log",
		Workers:         4,
		ChunkSize:       2048,
		MaxFailureRatio: 0.05,
		Seed:            42,
		Ks:              []int{3, 6},
		MaxIterations:   100,
		Restarts:        4,
	}
}

func TestStoreCreateRun(t *testing.T) {
	store, mock := newMockStore(t)

	submitted := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	run := analysis.Run{
		ID:        "run-1",
		Status:    analysis.StatusRunning,
		Submitted: submitted,
		Started:   &started,
		Params:    sampleParams(),
	}
	paramsJSON, err := json.Marshal(run.Params)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1", "running", submitted, &started, (*time.Time)(nil), "", paramsJSON,
			int64(0), int64(0), int64(0), int64(0)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateRunStatus(t *testing.T) {
	store, mock := newMockStore(t)

	counters := analysis.Counters{Lines: 120, Records: 118, ParseFailures: 2, FeatureRows: 110}
	mock.ExpectExec("UPDATE runs SET").
		WithArgs("succeeded", "", int64(120), int64(118), int64(2), int64(110),
			pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateRunStatus(context.Background(), "run-1", analysis.StatusSucceeded, "", counters)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateRunStatusNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE runs SET").
		WithArgs("failed", "boom", int64(0), int64(0), int64(0), int64(0),
			pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateRunStatus(context.Background(), "missing", analysis.StatusFailed, "boom", analysis.Counters{})
	require.ErrorIs(t, err, analysis.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetRun(t *testing.T) {
	store, mock := newMockStore(t)

	submitted := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	paramsJSON, err := json.Marshal(sampleParams())
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "params",
		"lines", "records", "parse_failures", "feature_rows",
	}).AddRow("run-1", "running", submitted, &started, (*time.Time)(nil), "", paramsJSON,
		int64(120), int64(118), int64(2), int64(110))

	mock.ExpectQuery("SELECT (.+) FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, analysis.StatusRunning, run.Status)
	require.True(t, run.Submitted.Equal(submitted))
	require.NotNil(t, run.Started)
	require.Nil(t, run.Finished)
	require.Equal(t, sampleParams(), run.Params)
	require.Equal(t, int64(118), run.Counters.Records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetRunNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM runs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, analysis.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePutRecordsTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	bytes := int64(512)
	k3, k6 := 2, 5
	labeled := record.Record{
		IP:        "10.0.0.1",
		Timestamp: record.ClockTime{Day: 3, Hour: 14, Minute: 30, Second: 5},
		Method:    "GET",
		Resource:  "/index.html",
		Protocol:  "HTTP/1.0",
		Status:    200,
		Bytes:     &bytes,
		URLLength: 11,
		ClusterK3: &k3,
		ClusterK6: &k6,
	}
	missing := record.Record{
		IP:        "10.0.0.2",
		Timestamp: record.ClockTime{Day: 3, Hour: 14, Minute: 30, Second: 6},
		Method:    "HEAD",
		Resource:  "/ping",
		Protocol:  "HTTP/1.0",
		Status:    404,
		URLLength: 5,
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM run_records").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO run_records").
		WithArgs("run-1", 0, "10.0.0.1", 3, 14, 30, 5, "GET", "/index.html", "HTTP/1.0",
			200, &bytes, 11, &k3, &k6).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO run_records").
		WithArgs("run-1", 1, "10.0.0.2", 3, 14, 30, 6, "HEAD", "/ping", "HTTP/1.0",
			404, (*int64)(nil), 5, (*int)(nil), (*int)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.PutRecords(context.Background(), "run-1", []record.Record{labeled, missing})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorePutSummary(t *testing.T) {
	store, mock := newMockStore(t)

	summary := analysis.Summary{
		RunID:       "run-1",
		Source:      "access.log",
		GeneratedAt: time.Date(2026, 3, 14, 9, 5, 0, 0, time.UTC),
		Counters:    analysis.Counters{Lines: 10, Records: 10, FeatureRows: 10},
	}
	summaryJSON, err := json.Marshal(summary)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO run_summaries").
		WithArgs("run-1", summaryJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutSummary(context.Background(), "run-1", summary))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAppendEvents(t *testing.T) {
	store, mock := newMockStore(t)

	ts := time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC)
	entries := []analysis.TimelineEntry{
		{Stage: "RUN_START", TS: ts},
		{Stage: "CLUSTER_DONE", TS: ts.Add(time.Second), K: 3, DurationMs: 42, Note: "converged"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO run_events").
		WithArgs("run-1", "RUN_START", ts, 0, int64(0), int64(0), int64(0), int64(0), "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO run_events").
		WithArgs("run-1", "CLUSTER_DONE", ts.Add(time.Second), 3, int64(0), int64(0), int64(0), int64(42), "converged").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendEvents(context.Background(), "run-1", entries))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreAppendEventsEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	require.NoError(t, store.AppendEvents(context.Background(), "run-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListRuns(t *testing.T) {
	store, mock := newMockStore(t)

	paramsJSON, err := json.Marshal(sampleParams())
	require.NoError(t, err)
	newer := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "params",
		"lines", "records", "parse_failures", "feature_rows",
	}).
		AddRow("run-2", "succeeded", newer, (*time.Time)(nil), (*time.Time)(nil), "", paramsJSON,
			int64(5), int64(5), int64(0), int64(5)).
		AddRow("run-1", "failed", older, (*time.Time)(nil), (*time.Time)(nil), "boom", paramsJSON,
			int64(0), int64(0), int64(0), int64(0))

	mock.ExpectQuery("SELECT (.+) FROM runs ORDER BY submitted_at DESC").
		WithArgs(2, 0).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, "run-1", runs[1].ID)
	require.Equal(t, "boom", runs[1].ErrorText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListRunsNoLimit(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "params",
		"lines", "records", "parse_failures", "feature_rows",
	})
	mock.ExpectQuery("SELECT (.+) FROM runs ORDER BY submitted_at DESC").
		WithArgs(nil, 0).
		WillReturnRows(rows)

	runs, err := store.ListRuns(context.Background(), -5, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetSummaryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT summary FROM run_summaries").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetSummary(context.Background(), "missing")
	require.ErrorIs(t, err, analysis.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListEvents(t *testing.T) {
	store, mock := newMockStore(t)

	ts := time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"stage", "ts", "k", "lines", "records", "failures", "duration_ms", "note",
	}).
		AddRow("RUN_START", ts, 0, int64(0), int64(0), int64(0), int64(0), "").
		AddRow("PARSE_DONE", ts.Add(time.Second), 0, int64(100), int64(98), int64(2), int64(900), "")

	mock.ExpectQuery("SELECT (.+) FROM run_events WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(rows)

	events, err := store.ListEvents(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "RUN_START", events[0].Stage)
	require.Equal(t, int64(98), events[1].Records)
	require.NoError(t, mock.ExpectationsWereMet())
}
