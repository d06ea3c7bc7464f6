package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersAdmitted counts orders accepted into the book by side (buy/sell)
var OrdersAdmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "darkpool_orders_admitted_total",
		Help: "Total number of orders admitted into the order book",
	},
	[]string{"side"},
)

// OrdersCancelled counts owner-initiated cancellations
var OrdersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "darkpool_orders_cancelled_total",
		Help: "Total number of orders cancelled by their owners",
	},
)

// MatchesProposed counts match intents emitted by the matching engine
var MatchesProposed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "darkpool_matches_proposed_total",
		Help: "Total number of match intents proposed per trading pair",
	},
	[]string{"pair"},
)

// MatchCycleDuration records latency distribution of matching cycles
var MatchCycleDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "darkpool_match_cycle_duration_seconds",
		Help:    "Duration in seconds of individual matching cycles",
		Buckets: prometheus.DefBuckets,
	},
)

// Settlement outcome counters
var (
	SettlementsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkpool_settlements_completed_total",
			Help: "Total number of settlements finalized successfully",
		},
	)

	SettlementsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkpool_settlements_failed_total",
			Help: "Total number of settlements that failed after retry exhaustion",
		},
	)

	SettlementRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "darkpool_settlement_retries_total",
			Help: "Total number of retried settlement calls",
		},
	)
)

// CircuitBreakerState exposes the breaker state per dependency (0=closed, 1=open, 2=half-open)
var CircuitBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "darkpool_circuit_breaker_state",
		Help: "Current circuit breaker state per external dependency",
	},
	[]string{"dependency"},
)

func init() {
	prometheus.MustRegister(OrdersAdmitted, OrdersCancelled, MatchesProposed, MatchCycleDuration)
	prometheus.MustRegister(SettlementsCompleted, SettlementsFailed, SettlementRetries)
	prometheus.MustRegister(CircuitBreakerState)
}
