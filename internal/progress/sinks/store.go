package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/progress"
	"github.com/ashmod/panels/internal/store"
)

// StoreSink records run starts and completions in a store.RunRepository. Page and
// checkpoint events are not persisted.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink builds a StoreSink.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume implements progress.Sink. The first repository error aborts the batch.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("start run %s: %w", evt.RunID, err)
			}
		case progress.StageRunDone, progress.StageRunError:
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			counters := store.RunCounters(evt.Totals)
			if err := s.repo.FinishRun(ctx, evt.RunID, evt.TS, status, counters, note); err != nil {
				return fmt.Errorf("finish run %s: %w", evt.RunID, err)
			}
			s.logger.Debug("run recorded", zap.String("run_id", evt.RunID.String()), zap.String("status", string(status)))
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
