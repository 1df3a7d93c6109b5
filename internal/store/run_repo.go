// Package store declares interfaces for persisting harvest run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("harvest run not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunCounters are the totals a finished run reports.
type RunCounters struct {
	Cached  int64 `json:"cached"`
	Fetched int64 `json:"fetched"`
	Errors  int64 `json:"errors"`
	Total   int64 `json:"total"`
}

// Run models one harvest run.
type Run struct {
	ID         uuid.UUID   `json:"id"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	Status     RunStatus   `json:"status"`
	Counters   RunCounters `json:"counters"`
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// RunRepository persists harvest runs.
type RunRepository interface {
	// StartRun records a run as running. Repeating it for the same id is a no-op.
	StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished with its status, totals and optional error.
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, counters RunCounters, errMsg *string) error
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
