// Package metrics exposes the orchestrator's Prometheus surface
// (SPEC_FULL.md Part C): job-state gauges, iteration-outcome histograms,
// and a circuit-breaker-state gauge per endpoint, grounded on
// C360Studio-semspec's prometheus/client_golang usage (this pack's teacher
// has no metrics-registry dependency of its own).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/resilience"
)

// Registry bundles every collector the orchestrator publishes. A nil
// *Registry is not usable; callers must go through New.
type Registry struct {
	JobsByState      *prometheus.GaugeVec
	JobEventsTotal   *prometheus.CounterVec
	IterationOutcome *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
	RetentionDeleted prometheus.Counter
}

// breakerStateValue maps a resilience.State to the gauge value Grafana/Prom
// dashboards expect: 0=closed, 1=half-open, 2=open.
func breakerStateValue(s resilience.State) float64 {
	switch s {
	case resilience.Closed:
		return 0
	case resilience.HalfOpen:
		return 1
	case resilience.Open:
		return 2
	default:
		return -1
	}
}

// New registers every collector against reg (pass prometheus.NewRegistry()
// for test isolation, or prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		JobsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codeforge", Subsystem: "jobs", Name: "by_state",
			Help: "Number of jobs currently in each state.",
		}, []string{"state"}),
		JobEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codeforge", Subsystem: "jobs", Name: "events_total",
			Help: "Job lifecycle events observed via the Notifier (completed, needs_help).",
		}, []string{"event"}),
		IterationOutcome: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codeforge", Subsystem: "iteration", Name: "score",
			Help:    "Validator score recorded per completed iteration.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}, []string{"language", "model"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "codeforge", Subsystem: "resilience", Name: "circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open).",
		}, []string{"endpoint"}),
		RetentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "codeforge", Subsystem: "store", Name: "retention_deleted_total",
			Help: "Terminal jobs deleted by the retention sweep.",
		}),
	}
}

// BreakerListener returns a resilience.StateChangeListener that updates
// BreakerState; wire it into resilience.NewRegistryWithDefaults so breaker
// transitions are observable without resilience importing this package.
func (r *Registry) BreakerListener() resilience.StateChangeListener {
	return func(endpoint string, _, to resilience.State) {
		r.BreakerState.WithLabelValues(endpoint).Set(breakerStateValue(to))
	}
}

// RecordIteration feeds one completed iteration's score into the histogram.
func (r *Registry) RecordIteration(language, modelID string, score float64) {
	r.IterationOutcome.WithLabelValues(language, modelID).Observe(score)
}

// JobNotifier implements job.Notifier, counting lifecycle events and
// optionally chaining to another Notifier (e.g. events.NATSPublisher) so
// both fan-outs fire from the same SetNotifier call.
type JobNotifier struct {
	Metrics *Registry
	Next    job.Notifier
}

func (n *JobNotifier) Notify(event string, j *job.Job) {
	n.Metrics.JobEventsTotal.WithLabelValues(event).Inc()
	if n.Next != nil {
		n.Next.Notify(event, j)
	}
}

// SampleJobStates recomputes the by-state gauge from a live job list; call
// periodically (cmd/codeforged runs this on a ticker) since the Manager
// only calls Notify on completed/needs_help, not every transition.
func (r *Registry) SampleJobStates(jobs []*job.Job) {
	counts := map[job.State]int{
		job.StateQueued: 0, job.StateRunning: 0, job.StateComplete: 0,
		job.StateFailed: 0, job.StateCancelled: 0, job.StateTimedOut: 0, job.StateNeedsHelp: 0,
	}
	for _, j := range jobs {
		counts[j.State]++
	}
	for state, n := range counts {
		r.JobsByState.WithLabelValues(string(state)).Set(float64(n))
	}
}
