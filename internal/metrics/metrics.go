// Package metrics holds the Prometheus collectors exported by the summary
// worker. All methods are nil-safe so callers can pass a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "summarykit"

// Task outcomes.
const (
	OutcomeCompleted    = "completed"
	OutcomeSkipped      = "skipped"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
)

type Metrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	SelectedSentences *prometheus.HistogramVec
	BatchSize         prometheus.Histogram
}

// New builds the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Summary tasks processed, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time to load, summarize and store one document.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"strategy"}),
		SelectedSentences: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selected_sentences",
			Help:      "Number of sentences in each stored summary.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"strategy"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetched_batch_size",
			Help:      "Tasks returned per fetch of the task queue.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.TasksTotal, m.TaskDuration, m.SelectedSentences, m.BatchSize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveTask(strategy, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(strategy, outcome).Inc()
	m.TaskDuration.WithLabelValues(strategy).Observe(took.Seconds())
}

func (m *Metrics) ObserveSelected(strategy string, n int) {
	if m == nil {
		return
	}
	m.SelectedSentences.WithLabelValues(strategy).Observe(float64(n))
}

func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}
