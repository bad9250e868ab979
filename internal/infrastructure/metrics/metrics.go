// Package metrics exposes Prometheus instruments for the evaluation engine
// and the worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracking_carrera"

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Evaluation passes by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evaluation_duration_seconds",
		Help:      "Duration of a full evaluation pass.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"trigger"})

	unlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unlocks_total",
		Help:      "Achievements unlocked by category.",
	}, []string{"category"})

	predicateFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "predicate_faults_total",
		Help:      "Predicates that panicked during evaluation.",
	}, []string{"achievement_id"})

	workerUsersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_users_processed_total",
		Help:      "Users re-evaluated by background jobs.",
	}, []string{"job", "outcome"})

	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_job_runs_total",
		Help:      "Scheduled job runs by outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_job_duration_seconds",
		Help:      "Duration of a scheduled job run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 4, 8),
	}, []string{"job"})
)

// Outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Recorder records engine metrics into the default registry. The zero value
// is ready to use.
type Recorder struct{}

// NewRecorder returns a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// ObserveEvaluation counts one pass and its duration.
func (Recorder) ObserveEvaluation(trigger, outcome string, took time.Duration) {
	evaluationsTotal.WithLabelValues(trigger, outcome).Inc()
	evaluationDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

// IncUnlock counts one new unlock.
func (Recorder) IncUnlock(category string) {
	unlocksTotal.WithLabelValues(category).Inc()
}

// IncPredicateFault counts one recovered predicate panic.
func (Recorder) IncPredicateFault(achievementID string) {
	predicateFaultsTotal.WithLabelValues(achievementID).Inc()
}

// IncWorkerUser counts one user handled by a background job.
func (Recorder) IncWorkerUser(job, outcome string) {
	workerUsersTotal.WithLabelValues(job, outcome).Inc()
}

// ObserveJob counts one scheduler run and its duration.
func (Recorder) ObserveJob(job string, took time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	jobRunsTotal.WithLabelValues(job, outcome).Inc()
	jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
