package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Zero-valued
// stage payload fields are left out to keep lines short.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.K > 0 {
			fields = append(fields, zap.Int("k", evt.K))
		}
		switch evt.Stage {
		case progress.StageParseChunk, progress.StageParseDone:
			fields = append(fields,
				zap.Int64("lines", evt.Lines),
				zap.Int64("records", evt.Records),
				zap.Int64("failures", evt.Failures),
			)
		case progress.StageClusterDone:
			fields = append(fields,
				zap.Int64("iterations", evt.Iterations),
				zap.Bool("converged", evt.Converged),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
