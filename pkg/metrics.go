package pkg

import "github.com/prometheus/client_golang/prometheus"

var (
	RelaySessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chess_relay_sessions",
		Help: "A gauge of websocket sessions connected to the relay.",
	})

	RelayRoomsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chess_relay_rooms",
		Help: "A gauge of rooms held by the registry.",
	})

	RelayInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chess_relay_in_flight_requests",
		Help: "A gauge of requests being handled by the events server.",
	})

	RelayRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_relay_requests_total",
		Help: "A counter for requests to the events server.",
	}, []string{"code", "method"})

	RelayEventsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_relay_events_total",
		Help: "A counter for inbound socket events by event name.",
	}, []string{"event"})

	RelayMovesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chess_relay_moves_relayed_total",
		Help: "A counter for moves relayed to at least one peer.",
	})

	RelayFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_relay_relay_failures_total",
		Help: "A counter for moves that could not be relayed.",
	}, []string{"reason"})

	RelayJoinFailuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chess_relay_join_failures_total",
		Help: "A counter for rejected join requests.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		RelaySessionsGauge,
		RelayRoomsGauge,
		RelayInFlightGauge,
		RelayRequestsCounter,
		RelayEventsCounter,
		RelayMovesCounter,
		RelayFailuresCounter,
		RelayJoinFailuresCounter,
	)
}
