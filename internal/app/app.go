// Package app wires configuration, persistence, the analysis service, and
// the HTTP API into a single unit shared by the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/api"
	"github.com/logsift/logsift/internal/artifact"
	artifactgcs "github.com/logsift/logsift/internal/artifact/gcs"
	artifactlocal "github.com/logsift/logsift/internal/artifact/local"
	artifactmem "github.com/logsift/logsift/internal/artifact/memory"
	"github.com/logsift/logsift/internal/clock/system"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/hash/sha256"
	"github.com/logsift/logsift/internal/id/uuid"
	"github.com/logsift/logsift/internal/logging"
	"github.com/logsift/logsift/internal/notify/pubsub"
	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/progress"
	"github.com/logsift/logsift/internal/progress/sinks"
	"github.com/logsift/logsift/internal/store"
)

const shutdownTimeout = 10 * time.Second

// App holds every long-lived component of the process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	store   analysis.RunStore
	hub     *progress.Hub
	service *analysis.Service
	api     *api.Server

	artifactCloser  io.Closer
	publisherCloser io.Closer
}

// Build constructs the full dependency graph from cfg. On failure the
// partially built app is torn down before the error is returned.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	a.store, err = store.Open(ctx, cfg.Store, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	exporter, err := a.setupArtifacts(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("artifact init failed: %w", err)
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("publisher init failed: %w", err)
	}

	emitter, err := a.setupProgress()
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("progress init failed: %w", err)
	}

	a.service = analysis.NewService(
		a.store,
		exporter,
		publisher,
		system.New(),
		uuid.New(),
		emitter,
		analysis.Config{
			Workers:         cfg.Pipeline.Workers,
			ChunkSize:       cfg.Pipeline.ChunkSize,
			MaxFailureRatio: cfg.Pipeline.MaxFailureRatio,
			Seed:            cfg.Cluster.Seed,
			Ks:              cfg.Cluster.Ks,
			MaxIterations:   cfg.Cluster.MaxIterations,
			Restarts:        cfg.Cluster.Restarts,
			Topic:           cfg.PubSub.TopicName,
		},
		logger.Named("analysis"),
	)

	a.api, err = api.NewServer(a.store, a.registry, cfg, logger.Named("api"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return a, nil
}

func (a *App) setupArtifacts(ctx context.Context) (analysis.Exporter, error) {
	var backend analysis.ArtifactStore
	switch a.cfg.Artifacts.Backend {
	case "memory":
		a.logger.Info("using in-memory artifact store")
		backend = artifactmem.New()
	case "local":
		a.logger.Info("using local artifact store", zap.String("dir", a.cfg.Artifacts.Dir))
		s, err := artifactlocal.New(artifactlocal.Config{BaseDir: a.cfg.Artifacts.Dir})
		if err != nil {
			return nil, err
		}
		backend = s
	case "gcs":
		a.logger.Info("using gcs artifact store", zap.String("bucket", a.cfg.Artifacts.Bucket))
		s, err := artifactgcs.New(ctx, artifactgcs.Config{Bucket: a.cfg.Artifacts.Bucket})
		if err != nil {
			return nil, err
		}
		backend = s
		a.artifactCloser = s
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", a.cfg.Artifacts.Backend)
	}
	return artifact.NewExporter(backend, sha256.New(), a.cfg.Artifacts.Prefix)
}

func (a *App) setupPublisher(ctx context.Context) (analysis.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("run notifications disabled")
		return nil, nil
	}
	pub, err := pubsub.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, err
	}
	a.publisherCloser = pub
	a.logger.Info("publishing run notifications",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName))
	return pub, nil
}

func (a *App) setupProgress() (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress events disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("progress")))
	}
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, err
	}
	sinkList = append(sinkList,
		promSink,
		sinks.NewStoreSink(a.store, a.logger.Named("progress")),
	)

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait(),
		SinkTimeout:    a.cfg.Progress.SinkTimeout(),
		Logger:         a.logger.Named("progress"),
	}, sinkList...)
	return a.hub, nil
}

// Analyze executes one run over the log at source: a plain file, a
// gzip-compressed file, or "-" for stdin.
func (a *App) Analyze(ctx context.Context, source string) (analysis.Run, analysis.Summary, error) {
	input, err := parse.Open(source)
	if err != nil {
		return analysis.Run{}, analysis.Summary{}, err
	}
	defer func() {
		if cerr := input.Close(); cerr != nil {
			a.logger.Warn("close input", zap.Error(cerr))
		}
	}()
	return a.service.Execute(ctx, source, input)
}

// RunServe starts the HTTP API and blocks until the context is canceled or
// a SIGINT/SIGTERM arrives. It owns teardown: Close runs before it returns.
func (a *App) RunServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.Close(shutdownCtx)
	return runErr
}

// Handler exposes the HTTP API for embedding and tests.
func (a *App) Handler() http.Handler {
	return a.api.Handler()
}

// Close tears down components in dependency order: the hub drains into the
// store sink before the store itself closes. Failures are logged rather
// than returned so teardown always runs to completion, and closed fields
// are cleared so Close is safe to call twice.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("close progress hub", zap.Error(err))
		}
		a.hub = nil
	}
	if a.publisherCloser != nil {
		if err := a.publisherCloser.Close(); err != nil {
			a.logger.Warn("close publisher", zap.Error(err))
		}
		a.publisherCloser = nil
	}
	if a.artifactCloser != nil {
		if err := a.artifactCloser.Close(); err != nil {
			a.logger.Warn("close artifact store", zap.Error(err))
		}
		a.artifactCloser = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close run store", zap.Error(err))
		}
		a.store = nil
	}
	_ = a.logger.Sync()
}
