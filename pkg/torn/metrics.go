package torn

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// requestsTotal counts logical API calls by section and final outcome.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torn_api_requests_total",
			Help: "Total logical API calls by section and final outcome",
		},
		[]string{"section", "outcome"},
	)

	// attemptsTotal counts individual HTTP attempts by classification.
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "torn_api_attempts_total",
			Help: "Total HTTP attempts by classification",
		},
		[]string{"class"},
	)

	// authFailuresTotal counts observed auth failures (HTTP and embedded).
	authFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "torn_api_auth_failures_total",
			Help: "Total auth failures observed against the upstream API",
		},
	)

	// limiterWaitSeconds tracks time spent waiting for a rate limiter permit.
	limiterWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "torn_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter permit",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(attemptsTotal)
	prometheus.MustRegister(authFailuresTotal)
	prometheus.MustRegister(limiterWaitSeconds)
}
