package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts delivery outcomes.
type Metrics struct {
	Sent   prometheus.Counter
	Failed prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sent: f.NewCounter(prometheus.CounterOpts{
			Name: "opsflow_notifications_sent_total",
			Help: "Notifications handed to the transport successfully",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "opsflow_notifications_failed_total",
			Help: "Notification deliveries that failed and were left for retry",
		}),
	}
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.Sent.Inc()
	}
}

func (m *Metrics) IncFailed() {
	if m != nil {
		m.Failed.Inc()
	}
}
