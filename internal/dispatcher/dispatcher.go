// Package dispatcher fans work out in fixed-width concurrent batches with a pause
// between batches.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config shapes the fan-out.
type Config struct {
	// Width is the number of items processed concurrently in one batch.
	Width int
	// Pause is the sleep between consecutive batches.
	Pause  time.Duration
	Logger *zap.Logger
}

// Dispatcher runs a work function over a slice of items.
type Dispatcher[T any] struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Dispatcher. Width below one is treated as one.
func New[T any](cfg Config) *Dispatcher[T] {
	if cfg.Width < 1 {
		cfg.Width = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{cfg: cfg, logger: logger}
}

// Run hands every item to work. A batch always completes before the next starts;
// failures are work's concern and never stop the run. Cancelling ctx stops new
// batches from starting, and Run then returns the context error.
func (d *Dispatcher[T]) Run(ctx context.Context, items []T, work func(context.Context, T)) error {
	batches := (len(items) + d.cfg.Width - 1) / d.cfg.Width
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch stopped before batch %d/%d: %w", b+1, batches, err)
		}
		lo := b * d.cfg.Width
		hi := min(lo+d.cfg.Width, len(items))

		var g errgroup.Group
		for _, item := range items[lo:hi] {
			g.Go(func() error {
				work(ctx, item)
				return nil
			})
		}
		_ = g.Wait()
		d.logger.Debug("batch done", zap.Int("batch", b+1), zap.Int("batches", batches), zap.Int("items", hi-lo))

		if b == batches-1 || d.cfg.Pause <= 0 {
			continue
		}
		timer := time.NewTimer(d.cfg.Pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("dispatch stopped after batch %d/%d: %w", b+1, batches, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}
