package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/record"
)

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	run := analysis.Run{ID: "run-1", Status: analysis.StatusRunning, Submitted: time.Now().UTC()}

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := store.CreateRun(ctx, run); err == nil {
		t.Fatal("expected duplicate run error")
	}

	size := int64(1024)
	records := []record.Record{
		record.New("10.0.0.1", record.ClockTime{Day: 4, Hour: 10}, "GET", "/a", "HTTP/1.0", 200, &size),
		record.New("10.0.0.2", record.ClockTime{Day: 4, Hour: 11}, "GET", "/b", "HTTP/1.0", 404, nil),
	}
	if err := store.PutRecords(ctx, run.ID, records); err != nil {
		t.Fatalf("PutRecords() error = %v", err)
	}
	listed, err := store.ListRecords(ctx, run.ID, 0, 0)
	if err != nil || len(listed) != 2 {
		t.Fatalf("ListRecords() unexpected result: records=%v err=%v", listed, err)
	}
	listed[0].Resource = "modified"
	if store.records[run.ID][0].Resource != "/a" {
		t.Fatal("expected ListRecords to return a copy")
	}

	summary := analysis.Summary{RunID: run.ID, Source: "access.log"}
	if err := store.PutSummary(ctx, run.ID, summary); err != nil {
		t.Fatalf("PutSummary() error = %v", err)
	}
	got, err := store.GetSummary(ctx, run.ID)
	if err != nil || got.Source != "access.log" {
		t.Fatalf("GetSummary() unexpected result: summary=%+v err=%v", got, err)
	}

	entries := []analysis.TimelineEntry{
		{Stage: "RUN_START", TS: time.Now().UTC()},
		{Stage: "PARSE_CHUNK", TS: time.Now().UTC(), Lines: 100, Records: 96, Failures: 4},
	}
	if err := store.AppendEvents(ctx, run.ID, entries); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}
	events, err := store.ListEvents(ctx, run.ID)
	if err != nil || len(events) != 2 {
		t.Fatalf("ListEvents() unexpected result: events=%v err=%v", events, err)
	}

	counters := analysis.Counters{Lines: 100, Records: 96, ParseFailures: 4, FeatureRows: 90}
	if err := store.UpdateRunStatus(ctx, run.ID, analysis.StatusSucceeded, "", counters); err != nil {
		t.Fatalf("UpdateRunStatus() error = %v", err)
	}
	final, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if final.Status != analysis.StatusSucceeded || final.Finished == nil {
		t.Fatalf("expected terminal run with finish timestamp, got %+v", final)
	}
	if final.Counters != counters {
		t.Fatalf("expected counters to persist, got %+v", final.Counters)
	}
}

func TestStoreNotFound(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, analysis.ErrRunNotFound) {
		t.Fatalf("GetRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := store.GetSummary(ctx, "missing"); !errors.Is(err, analysis.ErrRunNotFound) {
		t.Fatalf("GetSummary() error = %v, want ErrRunNotFound", err)
	}
	err := store.UpdateRunStatus(ctx, "missing", analysis.StatusFailed, "x", analysis.Counters{})
	if !errors.Is(err, analysis.ErrRunNotFound) {
		t.Fatalf("UpdateRunStatus() error = %v, want ErrRunNotFound", err)
	}
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		run := analysis.Run{ID: fmt.Sprintf("run-%d", i), Status: analysis.StatusRunning}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%d) error = %v", i, err)
		}
	}

	page, err := store.ListRuns(ctx, 0, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != "run-4" || page[1].ID != "run-3" {
		t.Fatalf("expected newest-first page, got %+v", page)
	}

	tail, err := store.ListRuns(ctx, 4, 10)
	if err != nil || len(tail) != 1 || tail[0].ID != "run-0" {
		t.Fatalf("expected final page with run-0, got runs=%+v err=%v", tail, err)
	}

	empty, err := store.ListRuns(ctx, 10, 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty page, got runs=%+v err=%v", empty, err)
	}
}

func TestStoreListRecordsPagination(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()
	records := make([]record.Record, 10)
	for i := range records {
		records[i] = record.New("10.0.0.1", record.ClockTime{Day: 1}, "GET", fmt.Sprintf("/r%d", i), "HTTP/1.0", 200, nil)
	}
	if err := store.PutRecords(ctx, "run-1", records); err != nil {
		t.Fatalf("PutRecords() error = %v", err)
	}

	window, err := store.ListRecords(ctx, "run-1", 3, 4)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(window) != 4 || window[0].Resource != "/r3" || window[3].Resource != "/r6" {
		t.Fatalf("expected records 3..6, got %+v", window)
	}

	empty, err := store.ListRecords(ctx, "run-1", 50, 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty window, got records=%+v err=%v", empty, err)
	}
}
