package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is the harvest milestone an Event reports.
type Stage string

// Harvest stages.
const (
	StageRunStart   Stage = "RUN_START"
	StagePageDone   Stage = "PAGE_DONE"
	StagePageError  Stage = "PAGE_ERROR"
	StageCheckpoint Stage = "CHECKPOINT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Totals are the running counters of a harvest run.
type Totals struct {
	Cached  int64 `json:"cached"`
	Fetched int64 `json:"fetched"`
	Errors  int64 `json:"errors"`
	Total   int64 `json:"total"`
}

// Event is one harvest milestone.
type Event struct {
	RunID uuid.UUID
	// TS is stamped by the emitter, UTC.
	TS    time.Time
	Stage Stage
	// Date is the strip date for page events.
	Date string
	// Entries is the snapshot table size at a checkpoint or at the end of a run.
	Entries int
	// Totals is filled on RUN_DONE and RUN_ERROR.
	Totals Totals
	// Dur is the page fetch latency, or the run wall time on completion.
	Dur  time.Duration
	Note string
}

// Validate rejects events a sink could not attribute.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageCheckpoint, StageRunDone, StageRunError:
	case StagePageDone, StagePageError:
		if e.Date == "" {
			return fmt.Errorf("%s requires a date", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Final reports whether the event closes a run.
func (e Event) Final() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}
