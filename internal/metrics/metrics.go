package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons used with FramesDropped.
const (
	DropMalformed   = "malformed"
	DropUnknown     = "unknown_kind"
	DropPayload     = "bad_payload"
	DropUnbound     = "unbound"
	DropNotRelayed  = "not_relayed"
	DropNotAdmitted = "not_admitted"
)

var (
	// Hub metrics
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convrelay_sessions_active",
			Help: "Sessions currently registered in a room",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convrelay_rooms_active",
			Help: "Conversations with at least one registered session",
		},
	)

	EnvelopesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convrelay_envelopes_relayed_total",
			Help: "Envelopes fanned out, by delivered kind",
		},
		[]string{"kind"},
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_deliveries_total",
			Help: "Envelopes enqueued to individual receivers",
		},
	)

	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_delivery_failures_total",
			Help: "Receivers removed because delivery failed",
		},
	)

	// Session metrics
	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convrelay_frames_dropped_total",
			Help: "Inbound frames dropped by the relay",
		},
		[]string{"reason"},
	)

	ConnectionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_connections_accepted_total",
			Help: "Websocket upgrades accepted",
		},
	)

	UpgradesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convrelay_upgrades_rejected_total",
			Help: "Upgrade requests refused by the guard",
		},
		[]string{"reason"},
	)

	// Bridge metrics
	BridgePublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_bridge_published_total",
			Help: "Envelopes published to other relay instances",
		},
	)

	BridgeReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_bridge_received_total",
			Help: "Envelopes received from other relay instances",
		},
	)

	// Client metrics
	ClientReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_client_reconnects_total",
			Help: "Reconnect attempts scheduled by connection managers",
		},
	)

	ClientSendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convrelay_client_sends_dropped_total",
			Help: "Client envelopes dropped because the transport was not open",
		},
	)
)
