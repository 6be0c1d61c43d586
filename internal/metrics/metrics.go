// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsengine_operations_total",
			Help: "Operations reaching a terminal status, by account, type, and status",
		},
		[]string{"account", "type", "status"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsengine_operation_retries_total",
			Help: "Retry attempts by account and failure category",
		},
		[]string{"account", "category"},
	)

	TierObservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsengine_tier_observations_total",
			Help: "Load tier observed before each dispatch",
		},
		[]string{"account", "tier"},
	)

	DispatchDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adsengine_dispatch_delay_seconds",
			Help:    "Pre-dispatch delay recommended by the usage tracker",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"account"},
	)

	BatchChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adsengine_batch_chunks_total",
			Help: "Physical batch requests issued",
		},
	)

	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adsengine_breaker_trips_total",
			Help: "Circuit breaker trips by dependency",
		},
		[]string{"dependency"},
	)
)

// RecordOperation records a terminal operation outcome.
func RecordOperation(account, opType, status string) {
	OperationsTotal.WithLabelValues(account, opType, status).Inc()
}

// RecordRetry records one retry attempt.
func RecordRetry(account, category string) {
	RetriesTotal.WithLabelValues(account, category).Inc()
}

// RecordDispatch records the tier and delay observed before a dispatch.
func RecordDispatch(account, tier string, delay time.Duration) {
	TierObservations.WithLabelValues(account, tier).Inc()
	DispatchDelaySeconds.WithLabelValues(account).Observe(delay.Seconds())
}

// RecordBatchChunk records one physical batch call.
func RecordBatchChunk() {
	BatchChunksTotal.Inc()
}

// RecordBreakerTrip records a circuit breaker trip.
func RecordBreakerTrip(dependency string) {
	BreakerTripsTotal.WithLabelValues(dependency).Inc()
}
