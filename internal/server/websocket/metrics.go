package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	connectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feedwire",
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Live socket connections in this process.",
	})

	rejectedUpgrades = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "websocket",
		Name:      "rejected_upgrades_total",
		Help:      "Upgrade requests rejected for missing identity.",
	})

	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feedwire",
		Subsystem: "websocket",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped because a connection's outbox was full.",
	})

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Subsystem: "websocket",
			Name:      "commands_total",
			Help:      "Inbound client commands, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(connectionsGauge, rejectedUpgrades, droppedFrames, commandsTotal)
}
