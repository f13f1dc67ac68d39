package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions, by entity, method and result.",
	},
	[]string{"entity", "method", "result"},
)

func init() {
	prometheus.MustRegister(decisions)
}
