// Package metrics defines the Prometheus instrumentation for the chat server
// and exposes the /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveConnections tracks the size of the global connection set.
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "haven_active_connections",
		Help: "Number of currently connected clients.",
	})

	// ActiveRooms tracks the number of rooms present in the registry.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "haven_active_rooms",
		Help: "Number of rooms currently registered.",
	})

	// CommandsTotal counts decoded commands by verb.
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "haven_commands_total",
		Help: "Commands processed, labelled by verb.",
	}, []string{"verb"})

	// BroadcastsTotal counts room broadcast fan-outs.
	BroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haven_broadcasts_total",
		Help: "Room broadcasts performed.",
	})

	// BroadcastDropsTotal counts member deliveries that failed during a
	// broadcast fan-out.
	BroadcastDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haven_broadcast_drops_total",
		Help: "Broadcast deliveries dropped due to write failures.",
	})

	// ProtocolErrorsTotal counts commands that failed to decode.
	ProtocolErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "haven_protocol_errors_total",
		Help: "Commands rejected by the protocol codec.",
	})
)

func init() {
	prometheus.MustRegister(
		ActiveConnections,
		ActiveRooms,
		CommandsTotal,
		BroadcastsTotal,
		BroadcastDropsTotal,
		ProtocolErrorsTotal,
	)
}

// Handler exposes Prometheus metrics at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
