package sinks

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/discourse-archiver/internal/progress"
)

// PrometheusSink exports archive progress via Prometheus. It owns the
// collectors for runs started/completed/running, per-category completions and
// topic progress.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	categoriesDone   *prometheus.CounterVec
	categoryDuration prometheus.Histogram
	topicsDone       *prometheus.GaugeVec
	topicsTotal      *prometheus.GaugeVec
	verifyRepairs    prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_runs_started_total",
			Help: "Total archive runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_runs_completed_total",
			Help: "Total archive runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_runs_running",
			Help: "Current number of running archive runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		}, []string{"result"}),
		categoriesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_categories_completed_total",
			Help: "Categories archived partitioned by result.",
		}, []string{"result"}),
		categoryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_category_duration_seconds",
			Help:    "Wall time spent archiving one category.",
			Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		topicsDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_category_topics_done",
			Help: "Topics archived so far in the category being processed.",
		}, []string{"category"}),
		topicsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_category_topics_total",
			Help: "Topics discovered for the category being processed.",
		}, []string{"category"}),
		verifyRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_verify_repairs_total",
			Help: "Items re-downloaded by the verification sweep.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.categoriesDone,
		s.categoryDuration,
		s.topicsDone,
		s.topicsTotal,
		s.verifyRepairs,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageCategoryDone:
		s.categoriesDone.WithLabelValues(resultLabel(evt.Result)).Inc()
		if evt.Dur > 0 {
			s.categoryDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageTopicProgress:
		label := strconv.Itoa(evt.CategoryID)
		s.topicsDone.WithLabelValues(label).Set(float64(evt.Done))
		s.topicsTotal.WithLabelValues(label).Set(float64(evt.Total))
	case progress.StageVerifyDone:
		if evt.Done > 0 {
			s.verifyRepairs.Add(float64(evt.Done))
		}
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		label := resultLabel(evt.Result)
		s.runsCompleted.WithLabelValues(label).Inc()
		s.observeRuntime(evt, label)
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(string(progress.ResultError)).Inc()
		s.observeRuntime(evt, string(progress.ResultError))
	}
	if evt.Stage != progress.StageRunStart && s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func resultLabel(r progress.Result) string {
	if r == "" {
		return string(progress.ResultSuccess)
	}
	return string(r)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
