// Package jobmetrics instruments the asynq task handlers.
package jobmetrics

import (
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded on stayrev_jobs_total.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusDropped marks a failure asynq will not retry.
	StatusDropped = "dropped"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	synced   *prometheus.CounterVec
	purged   prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer. A nil registerer shares
// one set registered on the Prometheus default registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker times one handler run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := StatusSuccess
	switch {
	case err == nil:
	case errors.Is(err, asynq.SkipRetry):
		status = StatusDropped
		t.metrics.failures.WithLabelValues(t.job).Inc()
	default:
		status = StatusFailure
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddSynced counts reservation events pulled by the sync job, partitioned
// by outcome (applied, rejected, revenue_failed).
func (m *Metrics) AddSynced(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.synced.WithLabelValues(outcome).Add(float64(count))
}

// AddPurged counts idempotency keys removed by the purge job.
func (m *Metrics) AddPurged(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.purged.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stayrev_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stayrev_jobs_failures_total",
			Help: "Failed job runs by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stayrev_job_duration_seconds",
			Help:    "Job run duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180},
		}, []string{"job"}),
		synced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stayrev_sync_events_total",
			Help: "Reservation events pulled from channel feeds by outcome.",
		}, []string{"outcome"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stayrev_idempotency_keys_purged_total",
			Help: "Expired idempotency keys removed.",
		}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.synced, m.purged)
	return m
}
