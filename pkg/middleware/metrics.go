package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var requestLabels = []string{"route", "method", "status", "proto"}

// Metrics records request metrics for a gin router.
type Metrics struct {
	RequestsInFlight prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec

	// RequestBodySize only observes requests with a known content length,
	// since streamed bodies are passed through without buffering.
	RequestBodySize  prometheus.Histogram
	ResponseBodySize prometheus.Histogram
}

func NewMetrics(subsystem string) *Metrics {
	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)
	return &Metrics{
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tether",
			Subsystem: subsystem,
			Name:      "requests_in_flight",
			Help:      "Number of requests currently being handled.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total requests handled.",
		}, requestLabels),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tether",
			Subsystem: subsystem,
			Name:      "request_latency_seconds",
			Help:      "Time until the handler returned, including streaming the response body.",
			Buckets:   prometheus.DefBuckets,
		}, requestLabels),
		RequestBodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tether",
			Subsystem: subsystem,
			Name:      "request_body_size_bytes",
			Help:      "Request body size for requests with a content length.",
			Buckets:   sizeBuckets,
		}),
		ResponseBodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tether",
			Subsystem: subsystem,
			Name:      "response_body_size_bytes",
			Help:      "Response body bytes written.",
			Buckets:   sizeBuckets,
		}),
	}
}

func (m *Metrics) Register(registry prometheus.Registerer) {
	registry.MustRegister(
		m.RequestsInFlight,
		m.RequestsTotal,
		m.RequestLatency,
		m.RequestBodySize,
		m.ResponseBodySize,
	)
}

// Handler returns middleware recording the metrics for each request.
//
// Requests that don't match a route are labelled 'unmatched' so unknown
// paths don't create new series.
func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"route":  route,
			"method": c.Request.Method,
			"status": strconv.Itoa(c.Writer.Status()),
			"proto":  c.Request.Proto,
		}
		m.RequestsTotal.With(labels).Inc()
		m.RequestLatency.With(labels).Observe(time.Since(start).Seconds())

		if c.Request.ContentLength >= 0 {
			m.RequestBodySize.Observe(float64(c.Request.ContentLength))
		}
		m.ResponseBodySize.Observe(float64(max(c.Writer.Size(), 0)))
	}
}
