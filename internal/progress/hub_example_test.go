package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit counts the pages a run reported once the hub is closed.
func ExampleHub_Emit() {
	var pages int
	count := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				pages++
			}
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1}, count)

	runID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageRunStart})
	hub.Emit(Event{RunID: runID, TS: time.Unix(1, 0), Stage: StagePageDone, Date: "1995-06-01"})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages: %d\n", pages)
	// Output:
	// pages: 1
}
