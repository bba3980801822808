// Package memory provides an in-memory run store for development and tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/record"
)

// Store keeps runs, records, summaries, and timelines in process memory.
type Store struct {
	mu        sync.RWMutex
	runs      map[string]analysis.Run
	order     []string
	records   map[string][]record.Record
	summaries map[string]analysis.Summary
	events    map[string][]analysis.TimelineEntry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		runs:      make(map[string]analysis.Run),
		records:   make(map[string][]record.Record),
		summaries: make(map[string]analysis.Summary),
		events:    make(map[string][]analysis.TimelineEntry),
	}
}

// CreateRun stores a new run row.
func (s *Store) CreateRun(_ context.Context, run analysis.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return nil
}

// UpdateRunStatus updates the status, error text, and counters for a run,
// stamping Started on the running transition and Finished on terminal ones.
func (s *Store) UpdateRunStatus(
	_ context.Context,
	runID string,
	status analysis.Status,
	errText string,
	counters analysis.Counters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return analysis.ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := time.Now().UTC()
	if status == analysis.StatusRunning && run.Started == nil {
		run.Started = pointerTime(now)
	}
	if isTerminal(status) {
		run.Finished = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// PutRecords replaces the record set for a run.
func (s *Store) PutRecords(_ context.Context, runID string, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = records
	return nil
}

// PutSummary replaces the summary for a run.
func (s *Store) PutSummary(_ context.Context, runID string, summary analysis.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[runID] = summary
	return nil
}

// AppendEvents appends timeline entries for a run.
func (s *Store) AppendEvents(_ context.Context, runID string, entries []analysis.TimelineEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], entries...)
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, runID string) (analysis.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return analysis.Run{}, analysis.ErrRunNotFound
	}
	return run, nil
}

// ListRuns returns runs newest-first. limit <= 0 means no limit.
func (s *Store) ListRuns(_ context.Context, offset, limit int) ([]analysis.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 {
		offset = 0
	}
	n := len(s.order)
	if offset >= n {
		return []analysis.Run{}, nil
	}
	count := n - offset
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]analysis.Run, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, s.runs[s.order[n-1-offset-i]])
	}
	return out, nil
}

// ListRecords returns a window of the run's records in stored order. The
// returned slice is a copy.
func (s *Store) ListRecords(_ context.Context, runID string, offset, limit int) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[runID]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []record.Record{}, nil
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]record.Record, end-offset)
	copy(out, records[offset:end])
	return out, nil
}

// GetSummary fetches the summary for a run.
func (s *Store) GetSummary(_ context.Context, runID string) (analysis.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.summaries[runID]
	if !ok {
		return analysis.Summary{}, analysis.ErrRunNotFound
	}
	return summary, nil
}

// ListEvents returns all timeline entries recorded for a run.
func (s *Store) ListEvents(_ context.Context, runID string) ([]analysis.TimelineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[runID]
	out := make([]analysis.TimelineEntry, len(events))
	copy(out, events)
	return out, nil
}

// Close implements analysis.RunStore; it performs no action.
func (s *Store) Close() error {
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status analysis.Status) bool {
	switch status {
	case analysis.StatusSucceeded, analysis.StatusFailed:
		return true
	default:
		return false
	}
}
