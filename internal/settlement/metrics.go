package settlement

import "github.com/prometheus/client_golang/prometheus"

var (
	settlementsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "created_total",
		Help:      "Total settlement records created.",
	})

	settlementTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "transitions_total",
		Help:      "Settlement status transitions by from/to state.",
	}, []string{"from", "to"})

	settlementsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "records",
		Help:      "Current settlement record count by status.",
	}, []string{"status"})

	pollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "poll_cycles_total",
		Help:      "Reconciliation poll cycles by outcome.",
	}, []string{"outcome"}) // "completed", "skipped", "failed"

	pollCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Duration of reconciliation poll cycles.",
		Buckets:   prometheus.DefBuckets,
	})

	pollItemErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "poll_item_errors_total",
		Help:      "Per-transaction failures during poll cycles.",
	})

	settleNotifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "settlement",
		Name:      "notifications_total",
		Help:      "Settle notifications by outcome.",
	}, []string{"outcome"}) // "sent", "failed"
)

func init() {
	prometheus.MustRegister(
		settlementsCreated,
		settlementTransitions,
		settlementsByStatus,
		pollCycles,
		pollCycleDuration,
		pollItemErrors,
		settleNotifications,
	)
}
