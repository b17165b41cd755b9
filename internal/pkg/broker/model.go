package broker

import "github.com/prometheus/client_golang/prometheus"

type brokerMetrics struct {
	outcomes *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newBrokerMetrics(registerer prometheus.Registerer) *brokerMetrics {
	m := &brokerMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cluehunt",
			Subsystem: "broker",
			Name:      "outcomes_total",
			Help:      "Broker calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cluehunt",
			Subsystem: "broker",
			Name:      "retries_total",
			Help:      "Retried threshold network attempts.",
		}, []string{"operation"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cluehunt",
			Subsystem: "broker",
			Name:      "duration_seconds",
			Help:      "Broker call latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.outcomes, m.retries, m.duration)
	}

	return m
}
