package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/progress"
)

// TimelineAppender is the slice of the run store this sink needs.
type TimelineAppender interface {
	AppendEvents(ctx context.Context, runID string, entries []analysis.TimelineEntry) error
}

// StoreSink persists the run timeline via a run store. Parse chunk deltas
// are collapsed into one entry per run per batch to reduce write
// amplification on large inputs.
type StoreSink struct {
	store  TimelineAppender
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided run store.
func NewStoreSink(store TimelineAppender, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume converts the batch into timeline entries grouped per run and
// forwards them to the store. It respects ctx deadlines and surfaces store
// errors to the caller.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	seen := make(map[string]bool)
	entries := make(map[string][]analysis.TimelineEntry)
	chunks := make(map[string]*chunkDelta)
	var order []string

	for _, evt := range batch {
		runID := evt.RunUUID().String()
		if !seen[runID] {
			seen[runID] = true
			order = append(order, runID)
		}
		if evt.Stage == progress.StageParseChunk {
			delta := chunks[runID]
			if delta == nil {
				delta = &chunkDelta{}
				chunks[runID] = delta
			}
			delta.lines += evt.Lines
			delta.records += evt.Records
			delta.failures += evt.Failures
			if evt.TS.After(delta.at) {
				delta.at = evt.TS
			}
			continue
		}
		entries[runID] = append(entries[runID], entryFromEvent(evt))
	}

	for _, runID := range order {
		runEntries := entries[runID]
		if delta := chunks[runID]; delta != nil {
			runEntries = append(runEntries, analysis.TimelineEntry{
				Stage:    string(progress.StageParseChunk),
				TS:       delta.at,
				Lines:    delta.lines,
				Records:  delta.records,
				Failures: delta.failures,
			})
		}
		if len(runEntries) == 0 {
			continue
		}
		if err := s.store.AppendEvents(ctx, runID, runEntries); err != nil {
			return fmt.Errorf("append run events: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func entryFromEvent(evt progress.Event) analysis.TimelineEntry {
	return analysis.TimelineEntry{
		Stage:      string(evt.Stage),
		TS:         evt.TS,
		K:          evt.K,
		Lines:      evt.Lines,
		Records:    evt.Records,
		Failures:   evt.Failures,
		DurationMs: evt.Dur.Milliseconds(),
		Note:       evt.Note,
	}
}

type chunkDelta struct {
	lines    int64
	records  int64
	failures int64
	at       time.Time
}
