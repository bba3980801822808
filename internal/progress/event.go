// Package progress defines the event structures emitted by the analysis pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageParseChunk   Stage = "PARSE_CHUNK"
	StageParseDone    Stage = "PARSE_DONE"
	StageClusterStart Stage = "CLUSTER_START"
	StageClusterDone  Stage = "CLUSTER_DONE"
)

// Event captures a single milestone of analysis progress.
type Event struct {
	// RunID uniquely identifies an analysis run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or pipeline milestone occurred.
	Stage Stage
	// Source optionally names the input file for run lifecycle events.
	Source string
	// K scopes cluster events to their configuration.
	K int
	// Lines counts raw input lines covered by the event.
	Lines int64
	// Records counts normalized records produced.
	Records int64
	// Failures counts lines that did not parse.
	Failures int64
	// Iterations carries the refinement pass count for cluster completions.
	Iterations int64
	// Converged reports whether the cluster run stabilized before its cap.
	Converged bool
	// Dur captures execution latency for stages and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageParseDone:
	case StageParseChunk:
		if e.Lines <= 0 {
			return errors.New("parse chunk requires lines")
		}
	case StageClusterStart, StageClusterDone:
		if e.K <= 0 {
			return errors.New("cluster events require k")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Lines < 0 || e.Records < 0 || e.Failures < 0 || e.Iterations < 0 {
		return errors.New("counters must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
