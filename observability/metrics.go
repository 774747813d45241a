package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collateralMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	seized       *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

var (
	collateralMetricsOnce sync.Once
	collateralRegistry    *collateralMetrics
)

// Collateral returns the lazily-initialised metrics registry for the
// position engine.
func Collateral() *collateralMetrics {
	collateralMetricsOnce.Do(func() {
		collateralRegistry = &collateralMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthd",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthd",
				Subsystem: "engine",
				Name:      "liquidations_total",
				Help:      "Count of successful liquidations segmented by seized collateral token.",
			}, []string{"token"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthd",
				Subsystem: "engine",
				Name:      "seized_collateral_units_total",
				Help:      "Whole collateral units seized by liquidations, per token.",
			}, []string{"token"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "synthd",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			collateralRegistry.operations,
			collateralRegistry.liquidations,
			collateralRegistry.seized,
			collateralRegistry.latency,
		)
	})
	return collateralRegistry
}

// RecordOperation increments the operation counter, deriving the outcome
// label from the supplied error.
func (m *collateralMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordLiquidation increments the liquidation counter for the seized token
// and accumulates the seized amount in whole token units.
func (m *collateralMetrics) RecordLiquidation(token string, seizedUnits float64) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(token)
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.liquidations.WithLabelValues(normalized).Inc()
	if seizedUnits > 0 {
		m.seized.WithLabelValues(normalized).Add(seizedUnits)
	}
}

// ObserveDuration records the latency of a completed engine operation.
func (m *collateralMetrics) ObserveDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(operation).Observe(d.Seconds())
}
