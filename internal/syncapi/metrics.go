package syncapi

import "github.com/prometheus/client_golang/prometheus"

var (
	bridgeRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltsync",
		Subsystem: "bridge",
		Name:      "requests_total",
		Help:      "Total bridged protocol calls by action and outcome.",
	}, []string{"action", "outcome"}) // "success", "nack", "transport_error", "timeout", "business_error", "duplicate", "invalid_id", "cancelled"

	bridgeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voltsync",
		Subsystem: "bridge",
		Name:      "latency_seconds",
		Help:      "End-to-end latency of successful bridged calls, ack through callback.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(bridgeRequests, bridgeLatency)
}
