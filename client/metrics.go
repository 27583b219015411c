package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// ConnectsTotal is the number of connect attempts, labelled by result,
	// which is either 'success' or the stage that failed.
	ConnectsTotal *prometheus.CounterVec

	HandshakeLatency *prometheus.HistogramVec

	// ConnectionsActive is the number of connections whose background task
	// is running.
	ConnectionsActive prometheus.Gauge

	// BackgroundErrorsTotal is the number of connections whose background
	// task exited with an error.
	BackgroundErrorsTotal prometheus.Counter

	RequestsTotal  *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		ConnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "connects_total",
				Help:      "Total connect attempts.",
			},
			[]string{"result"},
		),
		HandshakeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "handshake_latency_seconds",
				Help:      "Protocol handshake latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"protocol"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "connections_active",
				Help:      "Number of active connections.",
			},
		),
		BackgroundErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "background_errors_total",
				Help:      "Total connections terminated by an error.",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "requests_total",
				Help:      "Total requests.",
			},
			[]string{"status", "method"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tether",
				Subsystem: "client",
				Name:      "request_latency_seconds",
				Help:      "Latency until the response headers are received.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status", "method"},
		),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.ConnectsTotal,
		m.HandshakeLatency,
		m.ConnectionsActive,
		m.BackgroundErrorsTotal,
		m.RequestsTotal,
		m.RequestLatency,
	)
}
