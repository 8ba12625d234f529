package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for the event stream registry.
type StreamMetrics struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	RejectedConnections *prometheus.CounterVec
	MessagesSent        prometheus.Counter
	WriteFailures       prometheus.Counter
	Evictions           *prometheus.CounterVec
	Heartbeats          prometheus.Counter
	WriteDuration       prometheus.Histogram
}

// NewStreamMetrics creates and registers stream metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Number of open event stream connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Total number of accepted event stream connections.",
		}),
		RejectedConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "rejected_connections_total",
			Help:      "Total number of refused event stream connections, by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_sent_total",
			Help:      "Total number of envelopes written to streams.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "write_failures_total",
			Help:      "Total number of failed or dropped stream writes.",
		}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "evictions_total",
			Help:      "Total number of connections removed by the eviction scan, by reason.",
		}, []string{"reason"}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Total number of heartbeat rounds.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "write_duration_seconds",
			Help:      "Duration of single frame writes in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.RejectedConnections,
		m.MessagesSent,
		m.WriteFailures,
		m.Evictions,
		m.Heartbeats,
		m.WriteDuration,
	)
	return m
}
