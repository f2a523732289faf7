package pending

import "github.com/prometheus/client_golang/prometheus"

var (
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "voltsync",
		Subsystem: "pending",
		Name:      "transactions",
		Help:      "Number of transactions currently awaiting a callback.",
	})

	pendingCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "pending",
		Name:      "created_total",
		Help:      "Total pending transaction entries created.",
	})

	pendingCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "pending",
		Name:      "completed_total",
		Help:      "Total pending entries completed by terminal reason.",
	}, []string{"reason"}) // "resolved", "rejected", "cancelled", "timeout"
)

func init() {
	prometheus.MustRegister(pendingGauge, pendingCreated, pendingCompleted)
}
