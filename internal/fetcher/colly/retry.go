package collyfetcher

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy waits a fixed delay between attempts. There is no exponential growth.
type RetryPolicy struct {
	Delay time.Duration
}

// Wait blocks for the delay or until ctx is done.
func (p RetryPolicy) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
