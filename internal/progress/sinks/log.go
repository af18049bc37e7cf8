package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/progress"
)

// LogSink writes each event as a debug-level structured log line. Run-level
// stages are logged at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", evt.Category))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Origin != "" {
			fields = append(fields, zap.String("origin", evt.Origin))
		}
		if evt.State != "" {
			fields = append(fields, zap.String("state", evt.State))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		fields = append(fields, zap.Int("count", evt.Count), zap.Duration("dur", evt.Dur))

		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageCategoryStart:
			s.logger.Info("progress event", fields...)
		default:
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
