package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Subsystem: "bus",
			Name:      "events_triggered_total",
			Help:      "Events published to the broker, by entity.",
		},
		[]string{"entity"},
	)

	eventsIntercepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Subsystem: "bus",
			Name:      "events_intercepted_total",
			Help:      "Control events consumed locally before publish.",
		},
		[]string{"entity", "action"},
	)

	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Subsystem: "bus",
			Name:      "events_received_total",
			Help:      "Events received from the broker, by entity.",
		},
		[]string{"entity"},
	)

	eventsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "events_malformed_total",
		Help:      "Received messages that could not be decoded.",
	})

	eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "listener_deliveries_total",
		Help:      "Successful listener invocations.",
	})

	eventsUndelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "events_without_local_listeners_total",
		Help:      "Received events with no audience member listening in this process.",
	})

	listenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Subsystem: "bus",
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		},
		[]string{"kind"},
	)

	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "publish_failures_total",
		Help:      "Failed publishes to the broker.",
	})

	subscriberLost = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "subscriber_lost_total",
		Help:      "Times the broker subscription ended unexpectedly.",
	})

	listenersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedwire",
		Subsystem: "bus",
		Name:      "listeners",
		Help:      "Registered listeners in this process.",
	})
)

func init() {
	prometheus.MustRegister(
		eventsTriggered,
		eventsIntercepted,
		eventsReceived,
		eventsMalformed,
		eventsDelivered,
		eventsUndelivered,
		listenerFailures,
		publishFailures,
		subscriberLost,
		listenersGauge,
	)
}
