package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments of the solve service.
type Metrics struct {
	SolveRequests   *prometheus.CounterVec
	SolveDuration   prometheus.Histogram
	SolveIterations prometheus.Histogram
}

// NewMetrics creates and registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SolveRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solve_requests_total",
			Help: "Solve requests by terminal status.",
		}, []string{"status"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solve_duration_seconds",
			Help:    "Wall-clock duration of solve requests.",
			Buckets: prometheus.ExponentialBuckets(1e-5, 10, 8),
		}),
		SolveIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "solve_iterations",
			Help:    "Main-loop iterations consumed per solve.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.SolveRequests, m.SolveDuration, m.SolveIterations)
	return m
}
