package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/record"
)

// ErrRunNotFound is returned by run stores when an ID has no row.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists run metadata, normalized records, summaries, and
// progress timelines.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status Status, errText string, counters Counters) error
	PutRecords(ctx context.Context, runID string, records []record.Record) error
	PutSummary(ctx context.Context, runID string, summary Summary) error
	AppendEvents(ctx context.Context, runID string, entries []TimelineEntry) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, offset, limit int) ([]Run, error)
	ListRecords(ctx context.Context, runID string, offset, limit int) ([]record.Record, error)
	GetSummary(ctx context.Context, runID string) (Summary, error)
	ListEvents(ctx context.Context, runID string) ([]TimelineEntry, error)
	Close() error
}

// ArtifactStore writes exported run artifacts and returns a URI.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Exporter writes the durable artifact set for a finished run and returns
// the manifest describing what was written.
type Exporter interface {
	Export(ctx context.Context, run Run, records []record.Record, failures []parse.LineError, summary Summary) (ArtifactManifest, error)
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
