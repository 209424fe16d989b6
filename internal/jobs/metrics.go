// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of campusdesk_jobs_total.
const (
	// OutcomeDone is a run that finished without error.
	OutcomeDone = "done"
	// OutcomeRetry is a failed run asynq will schedule again.
	OutcomeRetry = "retry"
	// OutcomeDropped is a failed run that will not be retried.
	OutcomeDropped = "dropped"
)

// Metrics holds the job collectors.
type Metrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors on registerer, or once on the default
// registerer when it is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	defaultOnce.Do(func() { defaultMetrics = register(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campusdesk_jobs_total",
			Help: "Task runs by task type and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campusdesk_job_duration_seconds",
			Help:    "Task run duration by task type.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"job"}),
	}
	registerer.MustRegister(m.runs, m.duration)
	return m
}

// Tracker times a single task run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
	last    bool
}

// Track starts timing job. ctx is the handler context; asynq stores the
// retry budget in it.
func (m *Metrics) Track(ctx context.Context, job string) *Tracker {
	return m.TrackRun(job, LastAttempt(ctx))
}

// TrackRun starts timing job when the caller already knows whether this is
// the final attempt.
func (m *Metrics) TrackRun(job string, lastAttempt bool) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now(), last: lastAttempt}
}

// LastAttempt reports whether the task run in ctx is the last one asynq
// will make before archiving the task.
func LastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	budget, okBudget := asynq.GetMaxRetry(ctx)
	return ok && okBudget && retried >= budget
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	t.metrics.runs.WithLabelValues(t.job, Classify(err, t.last)).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Classify maps a handler result to an outcome label. lastAttempt reports
// whether the retry budget is spent.
func Classify(err error, lastAttempt bool) string {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, asynq.SkipRetry), lastAttempt:
		return OutcomeDropped
	default:
		return OutcomeRetry
	}
}
