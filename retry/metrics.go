package retry

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	AttemptsTotal prometheus.Counter

	// RetriesTotal is the number of retries, labelled by whether the
	// attempt failed with an 'error' or a 'response'.
	RetriesTotal *prometheus.CounterVec

	// NotClonableTotal is the number of requests that were eligible for a
	// retry but couldn't be cloned.
	NotClonableTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		AttemptsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Total attempts, including the initial attempt.",
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "retry",
				Name:      "retries_total",
				Help:      "Total retries.",
			},
			[]string{"reason"},
		),
		NotClonableTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tether",
				Subsystem: "retry",
				Name:      "not_clonable_total",
				Help:      "Total retries skipped as the request couldn't be cloned.",
			},
		),
	}
}

func (m *Metrics) Register(registry *prometheus.Registry) {
	registry.MustRegister(
		m.AttemptsTotal,
		m.RetriesTotal,
		m.NotClonableTotal,
	)
}
