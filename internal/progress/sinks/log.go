package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ashmod/panels/internal/progress"
)

// LogSink writes every event as a structured log line. Page events log at Debug,
// failures at Warn, run milestones at Info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Date != "" {
			fields = append(fields, zap.String("date", evt.Date))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Stage == progress.StageCheckpoint || evt.Final() {
			fields = append(fields, zap.Int("entries", evt.Entries))
		}
		if evt.Final() {
			fields = append(fields,
				zap.Int64("cached", evt.Totals.Cached),
				zap.Int64("fetched", evt.Totals.Fetched),
				zap.Int64("errors", evt.Totals.Errors),
				zap.Int64("total", evt.Totals.Total))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(level(evt.Stage), "harvest progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func level(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StagePageDone:
		return zapcore.DebugLevel
	case progress.StagePageError, progress.StageRunError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
