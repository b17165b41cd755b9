package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Index           int
	Threshold       int
	Share           string
	MasterPublicKey string

	Peers       []string
	PeerTimeout time.Duration

	// RateLimit is requests per second across all endpoints; zero disables it.
	RateLimit float64
}

type nodeMetrics struct {
	requests *prometheus.CounterVec
}

func newNodeMetrics(registerer prometheus.Registerer) *nodeMetrics {
	m := &nodeMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cluehunt",
			Subsystem: "node",
			Name:      "requests_total",
			Help:      "Threshold node requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.requests)
	}

	return m
}
