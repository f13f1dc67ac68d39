package subscription

import "github.com/prometheus/client_golang/prometheus"

var targetedSends = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "subscription",
		Name:      "targeted_sends_total",
		Help:      "Events pushed to individually subscribed connections, by entity and result.",
	},
	[]string{"entity", "result"},
)

func init() {
	prometheus.MustRegister(targetedSends)
}
