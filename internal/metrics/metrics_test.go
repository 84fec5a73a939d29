package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/resilience"
)

func gaugeValue(t *testing.T, v *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	return testutil.ToFloat64(v.WithLabelValues(labels...))
}

func counterValue(t *testing.T, v *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return testutil.ToFloat64(v.WithLabelValues(labels...))
}

func TestBreakerListenerUpdatesGauge(t *testing.T) {
	r := New(prometheus.NewRegistry())
	listener := r.BreakerListener()

	listener("validator", resilience.Closed, resilience.HalfOpen)
	assert.Equal(t, 1.0, gaugeValue(t, r.BreakerState, "validator"))

	listener("validator", resilience.HalfOpen, resilience.Open)
	assert.Equal(t, 2.0, gaugeValue(t, r.BreakerState, "validator"))

	listener("validator", resilience.Open, resilience.Closed)
	assert.Equal(t, 0.0, gaugeValue(t, r.BreakerState, "validator"))
}

func TestJobNotifierChainsToNext(t *testing.T) {
	r := New(prometheus.NewRegistry())
	var chained []string
	n := &JobNotifier{Metrics: r, Next: notifierFunc(func(event string, j *job.Job) {
		chained = append(chained, event)
	})}

	j := job.NewJob("job-1", job.Request{})
	n.Notify("completed", j)

	assert.Equal(t, 1.0, counterValue(t, r.JobEventsTotal, "completed"))
	assert.Equal(t, []string{"completed"}, chained)
}

func TestJobNotifierToleratesNilNext(t *testing.T) {
	r := New(prometheus.NewRegistry())
	n := &JobNotifier{Metrics: r}
	assert.NotPanics(t, func() { n.Notify("needs_help", job.NewJob("job-1", job.Request{})) })
}

func TestSampleJobStatesSetsGaugePerState(t *testing.T) {
	r := New(prometheus.NewRegistry())
	running := job.NewJob("a", job.Request{})
	running.State = job.StateRunning
	queued := job.NewJob("b", job.Request{})

	r.SampleJobStates([]*job.Job{running, queued})
	assert.Equal(t, 1.0, gaugeValue(t, r.JobsByState, string(job.StateRunning)))
	assert.Equal(t, 1.0, gaugeValue(t, r.JobsByState, string(job.StateQueued)))
	assert.Equal(t, 0.0, gaugeValue(t, r.JobsByState, string(job.StateFailed)))
}

type notifierFunc func(event string, j *job.Job)

func (f notifierFunc) Notify(event string, j *job.Job) { f(event, j) }
