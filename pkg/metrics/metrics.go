// Package metrics holds the process-wide Prometheus collectors used by the
// resilience substrate. Each collector is registered once at init and
// exposed as a package variable, the way pincex_unified's pkg/metrics does.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// OrdersAccepted counts orders admitted by the Market Coordinator.
	OrdersAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictmarket_orders_accepted_total",
			Help: "Total number of orders accepted by the coordinator",
		},
		[]string{"market", "side"},
	)

	// OrderLatency records end-to-end submit latency.
	OrderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predictmarket_order_latency_seconds",
			Help:    "Latency in seconds to process an order submission",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TradesEmitted counts trades produced by either engine.
	TradesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictmarket_trades_total",
			Help: "Total number of trades emitted",
		},
		[]string{"market", "engine"},
	)

	// CircuitState publishes the current FSM state per dependency (0=closed,1=half-open,2=open).
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predictmarket_circuit_state",
			Help: "Current circuit breaker state by dependency",
		},
		[]string{"dependency"},
	)

	// SLOCompliance publishes the rolling compliance ratio per SLO.
	SLOCompliance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predictmarket_slo_compliance_ratio",
			Help: "Rolling compliance ratio per SLO",
		},
		[]string{"slo"},
	)

	// CacheHits / CacheMisses track layer-attributed cache outcomes.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictmarket_cache_hits_total",
			Help: "Cache hits by layer",
		},
		[]string{"layer"},
	)
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predictmarket_cache_misses_total",
			Help: "Cache misses that fell through to the loader",
		},
	)

	// QueueDepth publishes task queue depth by priority.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "predictmarket_taskqueue_depth",
			Help: "Number of queued tasks by priority",
		},
		[]string{"priority"},
	)
	TasksDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predictmarket_taskqueue_dead_total",
			Help: "Total tasks moved to the dead-letter state",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersAccepted, OrderLatency, TradesEmitted,
		CircuitState, SLOCompliance,
		CacheHits, CacheMisses,
		QueueDepth, TasksDeadLettered,
	)
}
