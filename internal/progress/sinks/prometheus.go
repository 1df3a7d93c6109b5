package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashmod/panels/internal/progress"
)

// PrometheusSink turns harvest events into collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageDuration prometheus.Histogram
	checkpoints  prometheus.Counter
	entries      prometheus.Gauge

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the harvest collectors on reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panels_harvest_runs_started_total",
			Help: "Harvest runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panels_harvest_runs_completed_total",
			Help: "Harvest runs finished, by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panels_harvest_runs_running",
			Help: "Harvest runs in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panels_harvest_run_duration_seconds",
			Help:    "Wall time per finished harvest run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panels_harvest_pages_total",
			Help: "Archived pages processed, by outcome.",
		}, []string{"outcome"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panels_harvest_page_duration_seconds",
			Help:    "Fetch and parse latency per archived page.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "panels_harvest_checkpoints_total",
			Help: "Snapshot table checkpoints written.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panels_harvest_snapshot_entries",
			Help: "Snapshot table size at the last checkpoint.",
		}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsRunning, s.runDuration,
		s.pages, s.pageDuration, s.checkpoints, s.entries,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register harvest collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StagePageDone, progress.StagePageError:
			outcome := "fetched"
			if evt.Stage == progress.StagePageError {
				outcome = "error"
			}
			s.pages.WithLabelValues(outcome).Inc()
			if evt.Dur > 0 {
				s.pageDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageCheckpoint:
			s.checkpoints.Inc()
			s.entries.Set(float64(evt.Entries))
		case progress.StageRunDone, progress.StageRunError:
			result := "success"
			if evt.Stage == progress.StageRunError {
				result = "error"
			}
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			s.entries.Set(float64(evt.Entries))
			if s.track(evt.RunID, false) {
				s.runsRunning.Dec()
			}
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// track records a run starting or finishing and reports whether that changed
// anything, so repeated events do not skew the running gauge.
func (s *PrometheusSink) track(id uuid.UUID, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	if start {
		s.running[id] = struct{}{}
		return !ok
	}
	delete(s.running, id)
	return ok
}
