// Package metrics exposes the client's Prometheus collectors. The registry
// is mounted on the local debug HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_events_received_total",
			Help: "Inbound server events by type.",
		},
		[]string{"type"},
	)

	DecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "battle_decode_errors_total",
			Help: "Inbound frames that failed to decode.",
		},
	)

	RequestTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_request_timeouts_total",
			Help: "Guarded requests that hit the timeout, by category.",
		},
		[]string{"category"},
	)

	ActionsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_actions_sent_total",
			Help: "Outbound client messages by type.",
		},
		[]string{"type"},
	)

	Captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "battle_captures_total",
			Help: "Finished capture sequences by outcome.",
		},
		[]string{"outcome"},
	)

	KOSequences = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "battle_ko_sequences_total",
			Help: "Completed KO presentation sequences.",
		},
	)

	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "battle_transport_reconnects_total",
			Help: "Websocket reconnect attempts.",
		},
	)
)

// NewRegistry returns a registry with the client collectors plus the default
// Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EventsReceived,
		DecodeErrors,
		RequestTimeouts,
		ActionsSent,
		Captures,
		KOSequences,
		Reconnects,
	)
	return reg
}
