package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	ConnectedClients  prometheus.Gauge
	OpenRooms         prometheus.Gauge
	EventsBroadcast   *prometheus.CounterVec
	MessagesPersisted prometheus.Counter
	EventsDropped     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatflow",
			Name:      "connected_clients",
			Help:      "Number of live websocket connections.",
		}),
		OpenRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatflow",
			Name:      "open_rooms",
			Help:      "Number of rooms with at least one joined connection.",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "events_broadcast_total",
			Help:      "Events fanned out to connections, by event type.",
		}, []string{"event"}),
		MessagesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "messages_persisted_total",
			Help:      "Messages accepted by the ingest pipeline and persisted.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatflow",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a client send buffer was full.",
		}),
	}
}
