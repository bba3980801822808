// Package pipeline runs the concurrent parse stage. Input lines are split
// into fixed-size chunks, parsed by a worker pool, and reassembled so the
// output table preserves input line order exactly.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/progress"
	"github.com/logsift/logsift/internal/record"
)

const (
	defaultWorkers   = 4
	defaultChunkSize = 2048
	// maxLineBytes caps a single input line; anything longer fails the scan.
	maxLineBytes = 1 << 20
)

// Config controls the parse stage.
type Config struct {
	// Workers is the parse pool size. Zero means defaultWorkers.
	Workers int
	// ChunkSize is the number of lines handed to a worker at once. Zero
	// means defaultChunkSize.
	ChunkSize int
	// MaxFailureRatio aborts the parse when failures/lines exceeds it. A
	// limit of 0 aborts on any failure; 1 never aborts.
	MaxFailureRatio float64
	// RunID scopes emitted progress events.
	RunID [16]byte
	// Emitter receives per-chunk progress events when non-nil.
	Emitter progress.Emitter
	// Logger is optional.
	Logger *zap.Logger
}

// Result is a completed parse over one input.
type Result struct {
	// Table holds the normalized records in input line order.
	Table *record.Table
	// Failures lists per-line parse errors sorted by line number.
	Failures []parse.LineError
	// Lines is the total number of input lines scanned.
	Lines int64
}

// ThresholdError reports that parse failures exceeded the configured ratio.
type ThresholdError struct {
	Lines    int64
	Failures int64
	Ratio    float64
	Limit    float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("parse failures exceeded limit: %d of %d lines failed (ratio %.4f > limit %.4f)",
		e.Failures, e.Lines, e.Ratio, e.Limit)
}

type chunk struct {
	index     int
	startLine int
	lines     []string
}

type chunkResult struct {
	index    int
	records  []record.Record
	failures []parse.LineError
}

// Parse reads raw log lines from r and produces the normalized record table.
// Per-line failures are collected, not fatal; the whole parse fails only on
// scan errors, context cancellation, or the failure-ratio threshold.
func Parse(ctx context.Context, r io.Reader, cfg Config) (*Result, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jobs := make(chan chunk, workers)
	results := make(chan chunkResult, workers)
	scanErr := make(chan error, 1)

	go func() {
		defer close(jobs)
		scanErr <- scanChunks(ctx, r, chunkSize, jobs)
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			workerLogger := logger.Named("parse_worker").With(zap.Int("index", index))
			for c := range jobs {
				res := chunkResult{index: c.index}
				res.records, res.failures = parse.Lines(c.lines, c.startLine)
				workerLogger.Debug("chunk parsed",
					zap.Int("chunk", c.index),
					zap.Int("records", len(res.records)),
					zap.Int("failures", len(res.failures)),
				)
				emitChunk(cfg, c, res)
				select {
				case results <- res:
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	parsed := make([]chunkResult, 0)
	for res := range results {
		parsed = append(parsed, res)
	}

	if err := <-scanErr; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Chunks complete in pool order; index order restores input order.
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].index < parsed[j].index })

	var records []record.Record
	var failures []parse.LineError
	for _, res := range parsed {
		records = append(records, res.records...)
		failures = append(failures, res.failures...)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Line < failures[j].Line })

	result := &Result{
		Table:    record.NewTable(records),
		Failures: failures,
		Lines:    int64(len(records) + len(failures)),
	}

	if result.Lines > 0 {
		ratio := float64(len(failures)) / float64(result.Lines)
		if ratio > cfg.MaxFailureRatio {
			return nil, &ThresholdError{
				Lines:    result.Lines,
				Failures: int64(len(failures)),
				Ratio:    ratio,
				Limit:    cfg.MaxFailureRatio,
			}
		}
	}
	return result, nil
}

// scanChunks reads r line by line and feeds fixed-size chunks to the pool.
func scanChunks(ctx context.Context, r io.Reader, size int, jobs chan<- chunk) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	buf := make([]string, 0, size)
	index := 0
	startLine := 1
	line := 1

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		c := chunk{index: index, startLine: startLine, lines: buf}
		select {
		case jobs <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
		index++
		startLine = line
		buf = make([]string, 0, size)
		return nil
	}

	for scanner.Scan() {
		buf = append(buf, scanner.Text())
		line++
		if len(buf) >= size {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return flush()
}

func emitChunk(cfg Config, c chunk, res chunkResult) {
	if cfg.Emitter == nil {
		return
	}
	cfg.Emitter.Emit(progress.Event{
		RunID:    cfg.RunID,
		TS:       time.Now().UTC(),
		Stage:    progress.StageParseChunk,
		Lines:    int64(len(c.lines)),
		Records:  int64(len(res.records)),
		Failures: int64(len(res.failures)),
	})
}
