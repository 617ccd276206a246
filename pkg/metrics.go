package pkg

import "github.com/prometheus/client_golang/prometheus"

var (
	RoomServerClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "room_server_clients",
		Help: "A gauge of students connected to the room server.",
	})

	RoomServerSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "room_server_sessions",
		Help: "A gauge of open sessions on the room server.",
	})

	RoomServerRoomsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "room_server_rooms",
		Help: "A gauge of rooms with at least one member.",
	})

	RoomServerInFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "room_server_in_flight_requests",
		Help: "A gauge of requests being handled by the room server.",
	})

	RoomServerRequestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_server_requests_total",
		Help: "A counter for requests to the room server.",
	}, []string{"code", "method"})

	RoomServerDeliveriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_server_deliveries_total",
		Help: "A counter for messages queued to sessions, by message kind.",
	}, []string{"kind"})

	RoomServerFailedDeliveriesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "room_server_failed_deliveries_total",
		Help: "A counter for dispatches with at least one failed delivery, by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(
		RoomServerClientsGauge,
		RoomServerSessionsGauge,
		RoomServerRoomsGauge,
		RoomServerInFlightGauge,
		RoomServerRequestsCounter,
		RoomServerDeliveriesCounter,
		RoomServerFailedDeliveriesCounter,
	)
}
