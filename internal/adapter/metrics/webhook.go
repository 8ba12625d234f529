package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics holds Prometheus metrics for the webhook ingestion pipeline.
type WebhookMetrics struct {
	Requests           *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	EventsByName       *prometheus.CounterVec
}

// NewWebhookMetrics creates and registers webhook metrics on the given registry.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of webhook requests, by result.",
		}, []string{"result"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "processing_duration_seconds",
			Help:      "Duration of webhook verification, mapping and publishing in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		EventsByName: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total number of accepted webhook events, by event name.",
		}, []string{"event"}),
	}

	reg.MustRegister(m.Requests, m.ProcessingDuration, m.EventsByName)
	return m
}
