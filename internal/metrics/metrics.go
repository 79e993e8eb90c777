package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlet_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatlet_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection and room metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlet_connections_active",
			Help: "Open websocket connections",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlet_rooms_active",
			Help: "Rooms with at least one member",
		},
	)

	MembersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatlet_members_active",
			Help: "Room memberships across all rooms",
		},
	)

	NicknameCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlet_nickname_collisions_total",
			Help: "Joins and renames rejected because the nickname was taken",
		},
	)

	// Business metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlet_messages_sent_total",
			Help: "Chat messages persisted and broadcast",
		},
	)

	PersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlet_persistence_failures_total",
			Help: "Chat messages rejected because the log was unavailable",
		},
	)

	SignalsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlet_signals_relayed_total",
			Help: "WebRTC signaling messages forwarded",
		},
		[]string{"type"},
	)

	SignalsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatlet_signals_dropped_total",
			Help: "WebRTC signaling messages dropped",
		},
		[]string{"reason"},
	)

	DeliveriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlet_deliveries_dropped_total",
			Help: "Events not delivered because a member's send buffer was full or closed",
		},
	)

	MessagesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatlet_messages_pruned_total",
			Help: "Chat messages removed by the retention janitor",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatlet_store_latency_seconds",
			Help:    "Message log and room record operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"driver", "op"},
	)
)
