// Package analysis defines core types shared across subsystems.
package analysis

import (
	"time"
)

// Status represents the lifecycle state of an analysis run.
type Status string

// Run status values persisted in the run store.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Params captures the resolved configuration a run executed with.
type Params struct {
	Source          string  `json:"source"`
	Workers         int     `json:"workers"`
	ChunkSize       int     `json:"chunk_size"`
	MaxFailureRatio float64 `json:"max_failure_ratio"`
	Seed            int64   `json:"seed"`
	Ks              []int   `json:"ks"`
	MaxIterations   int     `json:"max_iterations"`
	Restarts        int     `json:"restarts"`
}

// Run represents the metadata persisted for each analysis execution.
type Run struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Params    Params     `json:"params"`
	Counters  Counters   `json:"counters"`
}

// Counters tracks aggregate pipeline stats per run.
type Counters struct {
	Lines         int64 `json:"lines"`
	Records       int64 `json:"records"`
	ParseFailures int64 `json:"parse_failures"`
	FeatureRows   int64 `json:"feature_rows"`
}

// TimelineEntry is one persisted progress milestone for a run.
type TimelineEntry struct {
	Stage      string    `json:"stage"`
	TS         time.Time `json:"ts"`
	K          int       `json:"k,omitempty"`
	Lines      int64     `json:"lines,omitempty"`
	Records    int64     `json:"records,omitempty"`
	Failures   int64     `json:"failures,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// ClusterOutcome describes one k configuration's result for a run.
type ClusterOutcome struct {
	K          int         `json:"k"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
	Inertia    float64     `json:"inertia"`
	Centroids  [][]float64 `json:"centroids"`
	Sizes      map[int]int `json:"sizes"`
}

// ArtifactRef locates one exported artifact and its integrity digest.
type ArtifactRef struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// ArtifactManifest lists everything exported for one run.
type ArtifactManifest struct {
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	Artifacts []ArtifactRef `json:"artifacts"`
}
