package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers request submissions and lifecycle transitions.
type Metrics struct {
	Submitted          *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	Completions        prometheus.Counter
}

// New registers on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opsflow_requests_submitted_total",
			Help: "Requests created, by type",
		}, []string{"variant"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opsflow_request_transitions_total",
			Help: "Transition attempts by type, target status and outcome code",
		}, []string{"variant", "to_status", "outcome"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opsflow_request_transition_duration_seconds",
			Help:    "Duration of a transition including its commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"to_status"}),
		Completions: f.NewCounter(prometheus.CounterOpts{
			Name: "opsflow_leave_completions_total",
			Help: "Leaves completed by the completion sweep",
		}),
	}
}

func (m *Metrics) IncrementSubmitted(variant string) {
	if m == nil {
		return
	}
	m.Submitted.WithLabelValues(variant).Inc()
}

// ObserveTransition records one attempt. outcome is "ok" or an error code.
// Call with time.Now() taken at the start of the attempt.
func (m *Metrics) ObserveTransition(variant, toStatus, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(variant, toStatus, outcome).Inc()
	m.TransitionDuration.WithLabelValues(toStatus).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementCompletions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Completions.Add(float64(n))
}
