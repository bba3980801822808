package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logsift/logsift/internal/progress"
)

// PrometheusSink exports analysis progress metrics via Prometheus. It owns
// the collectors for runs started/completed/running, parse throughput, and
// per-k clustering outcomes.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	parseLines    prometheus.Counter
	parseRecords  prometheus.Counter
	parseFailures prometheus.Counter
	parseDuration prometheus.Histogram

	clusterRuns     *prometheus.CounterVec
	clusterDuration *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsift_runs_started_total",
			Help: "Total analysis runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsift_runs_completed_total",
			Help: "Total analysis runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logsift_runs_running",
			Help: "Current number of running analysis runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logsift_run_duration_seconds",
			Help:    "Wall time per completed analysis run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		parseLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsift_parse_lines_total",
			Help: "Raw input lines scanned across all runs.",
		}),
		parseRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsift_parse_records_total",
			Help: "Normalized records produced across all runs.",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logsift_parse_failures_total",
			Help: "Lines rejected by the parser across all runs.",
		}),
		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logsift_parse_duration_seconds",
			Help:    "Wall time of the parse stage per run.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		clusterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logsift_cluster_runs_total",
			Help: "Completed clustering passes partitioned by k and convergence.",
		}, []string{"k", "converged"}),
		clusterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logsift_cluster_duration_seconds",
			Help:    "Clustering wall time partitioned by k.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"k"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.parseLines,
		s.parseRecords,
		s.parseFailures,
		s.parseDuration,
		s.clusterRuns,
		s.clusterDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageParseChunk:
		s.parseLines.Add(float64(evt.Lines))
		s.parseRecords.Add(float64(evt.Records))
		s.parseFailures.Add(float64(evt.Failures))
	case progress.StageParseDone:
		if evt.Dur > 0 {
			s.parseDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageClusterDone:
		s.handleClusterEvent(evt)
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRunDuration(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRunDuration(evt, "error")
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRunDuration(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleClusterEvent(evt progress.Event) {
	k := strconv.Itoa(evt.K)
	s.clusterRuns.WithLabelValues(k, strconv.FormatBool(evt.Converged)).Inc()
	if evt.Dur > 0 {
		s.clusterDuration.WithLabelValues(k).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
