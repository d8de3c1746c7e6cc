package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connected_clients",
			Help: "Number of users with a live websocket connection.",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_events_total",
			Help: "Client events received, by event name.",
		},
		[]string{"event"},
	)

	eventErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_event_errors_total",
			Help: "Client events rejected, by error code.",
		},
		[]string{"code"},
	)

	messagesPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages written to the database.",
		},
	)

	droppedFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_dropped_frames_total",
			Help: "Outbound frames dropped because a client buffer was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(connectedClients)
	prometheus.MustRegister(eventsTotal)
	prometheus.MustRegister(eventErrors)
	prometheus.MustRegister(messagesPersisted)
	prometheus.MustRegister(droppedFrames)
}
