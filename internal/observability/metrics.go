package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_gateway"

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0,
	7.5, 10.0, 15.0, 30.0, 60.0, 120.0, 300.0,
}

var (
	// RequestsTotal counts logical requests by terminal outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of logical gateway requests",
		},
		[]string{"task", "provider", "model", "status"},
	)

	// AttemptsTotal counts individual provider attempts, including
	// retries and failover steps.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Total provider attempts including retries and failovers",
		},
		[]string{"provider", "model", "error_type"},
	)

	// FailoversTotal counts candidate-to-candidate failover steps.
	FailoversTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Total failover steps across candidates",
		},
		[]string{"task"},
	)

	// RequestDuration tracks end-to-end logical request latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end logical request latency in seconds",
			Buckets:   latencyBuckets,
		},
		[]string{"task", "provider", "model"},
	)

	// TokensTotal accumulates token usage by direction.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens consumed",
		},
		[]string{"provider", "model", "direction"},
	)

	// CostTotal accumulates computed cost in USD.
	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Total computed cost in USD",
		},
		[]string{"provider", "model"},
	)

	// ModelHealthy exposes the cached health status per model.
	ModelHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_healthy",
			Help:      "Cached health status per model (1 healthy, 0 unhealthy)",
		},
		[]string{"provider", "model"},
	)
)
