package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Denied   *prometheus.CounterVec
	Degraded prometheus.Counter
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Denied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opsflow_ratelimit_denied_total",
			Help: "Requests refused by the per-actor rate limit",
		}, []string{"class"}),
		Degraded: f.NewCounter(prometheus.CounterOpts{
			Name: "opsflow_ratelimit_degraded_checks_total",
			Help: "Rate limit checks answered by the in-memory fallback",
		}),
	}
}

func (m *Metrics) IncrementDenied(class string) {
	if m == nil {
		return
	}
	m.Denied.WithLabelValues(class).Inc()
}

func (m *Metrics) IncrementDegraded() {
	if m == nil {
		return
	}
	m.Degraded.Inc()
}
