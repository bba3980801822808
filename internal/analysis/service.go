package analysis

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/feature"
	"github.com/logsift/logsift/internal/kmeans"
	"github.com/logsift/logsift/internal/pipeline"
	"github.com/logsift/logsift/internal/progress"
)

// Config controls Service behavior. Zero values fall back to the pipeline
// and clustering defaults.
type Config struct {
	Workers         int
	ChunkSize       int
	MaxFailureRatio float64
	Seed            int64
	Ks              []int
	MaxIterations   int
	Restarts        int
	Topic           string
	TopResources    int
}

// Service executes analysis runs end to end: parse, feature extraction,
// clustering, aggregation, persistence, artifact export, and notification.
type Service struct {
	store     RunStore
	exporter  Exporter
	publisher Publisher
	clock     Clock
	ids       IDGenerator
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// NewService constructs a Service. exporter, publisher, and emitter may be
// nil to disable the corresponding step.
func NewService(
	store RunStore,
	exporter Exporter,
	publisher Publisher,
	clock Clock,
	ids IDGenerator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Ks) == 0 {
		cfg.Ks = []int{3, 6}
	}
	if cfg.TopResources < 1 {
		cfg.TopResources = DefaultTopResources
	}
	return &Service{
		store:     store,
		exporter:  exporter,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the full analysis over input, persisting records, summary,
// and artifacts under a new run ID. It returns the finished run and its
// summary. Per-line parse failures are collected, not fatal; the run fails
// on scan errors, the failure-ratio threshold, an empty feature table, or
// any persistence error.
func (s *Service) Execute(ctx context.Context, source string, input io.Reader) (Run, Summary, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return Run{}, Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	runUUID, err := uuid.Parse(runID)
	if err != nil {
		return Run{}, Summary{}, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	idBytes := progress.UUIDToBytes(runUUID)

	started := s.clock.Now()
	run := Run{
		ID:        runID,
		Status:    StatusRunning,
		Submitted: started,
		Started:   &started,
		Params: Params{
			Source:          source,
			Workers:         s.cfg.Workers,
			ChunkSize:       s.cfg.ChunkSize,
			MaxFailureRatio: s.cfg.MaxFailureRatio,
			Seed:            s.cfg.Seed,
			Ks:              s.cfg.Ks,
			MaxIterations:   s.cfg.MaxIterations,
			Restarts:        s.cfg.Restarts,
		},
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return Run{}, Summary{}, fmt.Errorf("create run: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.String("source", source))
	s.emit(progress.Event{RunID: idBytes, TS: started, Stage: progress.StageRunStart, Source: source})

	parseStart := s.clock.Now()
	parsed, err := pipeline.Parse(ctx, input, pipeline.Config{
		Workers:         s.cfg.Workers,
		ChunkSize:       s.cfg.ChunkSize,
		MaxFailureRatio: s.cfg.MaxFailureRatio,
		RunID:           idBytes,
		Emitter:         s.emitter,
		Logger:          logger,
	})
	if err != nil {
		return s.failRun(ctx, run, idBytes, Counters{}, fmt.Errorf("parse %s: %w", source, err))
	}
	counters := Counters{
		Lines:         parsed.Lines,
		Records:       int64(parsed.Table.Len()),
		ParseFailures: int64(len(parsed.Failures)),
	}
	parseDone := s.clock.Now()
	s.emit(progress.Event{
		RunID:    idBytes,
		TS:       parseDone,
		Stage:    progress.StageParseDone,
		Lines:    counters.Lines,
		Records:  counters.Records,
		Failures: counters.ParseFailures,
		Dur:      parseDone.Sub(parseStart),
	})
	logger.Info("parse complete",
		zap.Int64("lines", counters.Lines),
		zap.Int64("records", counters.Records),
		zap.Int64("failures", counters.ParseFailures),
	)

	feat := feature.Extract(parsed.Table)
	counters.FeatureRows = int64(feat.Len())

	outcomes := make([]ClusterOutcome, 0, len(s.cfg.Ks))
	for _, k := range s.cfg.Ks {
		clusterStart := s.clock.Now()
		s.emit(progress.Event{RunID: idBytes, TS: clusterStart, Stage: progress.StageClusterStart, K: k})

		res, err := kmeans.Run(feat.Rows, kmeans.Config{
			K:             k,
			MaxIterations: s.cfg.MaxIterations,
			Restarts:      s.cfg.Restarts,
			Rand:          rand.New(rand.NewSource(s.cfg.Seed)),
		})
		if err != nil {
			return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("cluster k=%d: %w", k, err))
		}
		if err := parsed.Table.AttachClusterLabels(k, feat.Index, res.Labels); err != nil {
			return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("attach labels k=%d: %w", k, err))
		}
		outcomes = append(outcomes, ClusterOutcome{
			K:          k,
			Iterations: res.Iterations,
			Converged:  res.Converged,
			Inertia:    res.Inertia,
			Centroids:  res.Centroids,
			Sizes:      clusterSizes(res.Labels),
		})
		clusterDone := s.clock.Now()
		s.emit(progress.Event{
			RunID:      idBytes,
			TS:         clusterDone,
			Stage:      progress.StageClusterDone,
			K:          k,
			Iterations: int64(res.Iterations),
			Converged:  res.Converged,
			Dur:        clusterDone.Sub(clusterStart),
		})
		logger.Info("clustering complete",
			zap.Int("k", k),
			zap.Int("iterations", res.Iterations),
			zap.Bool("converged", res.Converged),
			zap.Float64("inertia", res.Inertia),
		)
	}

	records := parsed.Table.Records()
	if err := s.store.PutRecords(ctx, run.ID, records); err != nil {
		return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("put records: %w", err))
	}

	summary := Summary{
		RunID:       run.ID,
		Source:      source,
		GeneratedAt: s.clock.Now(),
		Counters:    counters,
		Aggregates:  Aggregate(parsed.Table, s.cfg.TopResources),
		Clusters:    outcomes,
	}
	if err := s.store.PutSummary(ctx, run.ID, summary); err != nil {
		return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("put summary: %w", err))
	}

	var manifest ArtifactManifest
	if s.exporter != nil {
		m, err := s.exporter.Export(ctx, run, records, parsed.Failures, summary)
		if err != nil {
			return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("export artifacts: %w", err))
		}
		manifest = m
	}

	if err := s.notifyCompletion(ctx, run, counters, manifest); err != nil {
		return s.failRun(ctx, run, idBytes, counters, err)
	}

	finished := s.clock.Now()
	if err := s.store.UpdateRunStatus(ctx, run.ID, StatusSucceeded, "", counters); err != nil {
		return s.failRun(ctx, run, idBytes, counters, fmt.Errorf("finalize run: %w", err))
	}
	run.Status = StatusSucceeded
	run.Finished = &finished
	run.Counters = counters
	s.emit(progress.Event{
		RunID:    idBytes,
		TS:       finished,
		Stage:    progress.StageRunDone,
		Lines:    counters.Lines,
		Records:  counters.Records,
		Failures: counters.ParseFailures,
		Dur:      finished.Sub(started),
	})
	logger.Info("run succeeded",
		zap.Int64("records", counters.Records),
		zap.Duration("dur", finished.Sub(started)),
	)
	return run, summary, nil
}

// failRun marks the run failed, emits the error event, and returns the
// original cause so callers see the analysis failure, not store noise.
func (s *Service) failRun(ctx context.Context, run Run, idBytes [16]byte, counters Counters, cause error) (Run, Summary, error) {
	now := s.clock.Now()
	var dur time.Duration
	if run.Started != nil {
		dur = now.Sub(*run.Started)
	}
	s.emit(progress.Event{
		RunID: idBytes,
		TS:    now,
		Stage: progress.StageRunError,
		Note:  cause.Error(),
		Dur:   dur,
	})
	if err := s.store.UpdateRunStatus(ctx, run.ID, StatusFailed, cause.Error(), counters); err != nil {
		s.logger.Error("final run status update failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.logger.Error("run failed", zap.String("run_id", run.ID), zap.Error(cause))
	run.Status = StatusFailed
	run.ErrorText = cause.Error()
	run.Finished = &now
	run.Counters = counters
	return run, Summary{}, cause
}

func (s *Service) notifyCompletion(ctx context.Context, run Run, counters Counters, manifest ArtifactManifest) error {
	if s.publisher == nil || s.cfg.Topic == "" {
		return nil
	}
	uris := make([]string, 0, len(manifest.Artifacts))
	for _, ref := range manifest.Artifacts {
		uris = append(uris, ref.URI)
	}
	payload := map[string]any{
		"run_id":         run.ID,
		"source":         run.Params.Source,
		"status":         string(StatusSucceeded),
		"lines":          counters.Lines,
		"records":        counters.Records,
		"parse_failures": counters.ParseFailures,
		"feature_rows":   counters.FeatureRows,
		"artifacts":      uris,
		"timestamp":      s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

func (s *Service) emit(evt progress.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(evt)
}

func clusterSizes(labels []int) map[int]int {
	sizes := make(map[int]int, 8)
	for _, label := range labels {
		sizes[label]++
	}
	return sizes
}
