// Package metrics exposes Prometheus collectors for the gateway sessions a
// manager supervises, plus the /metrics handler the HTTP server mounts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsAlive tracks how many supervised sessions are currently in
	// the connected state, labeled by target.
	SessionsAlive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsgateway_sessions_alive",
		Help: "Number of gateway sessions currently connected.",
	}, []string{"target"})

	// PacketsReceived counts decoded inbound dispatch events by event name
	// and target.
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsgateway_packets_received_total",
		Help: "Inbound dispatch events received from the gateway.",
	}, []string{"event", "target"})

	// PacketsSent counts outbound command payloads by opcode and target.
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsgateway_packets_sent_total",
		Help: "Outbound command payloads written to the gateway.",
	}, []string{"op", "target"})

	// Reconnects counts supervisor retry attempts, labeled by target.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wsgateway_reconnects_total",
		Help: "Reconnection attempts scheduled by the retry supervisor.",
	}, []string{"target"})

	// ResumeSequence records the last sequence number each target observed,
	// the anchor for resumption after a restart.
	ResumeSequence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wsgateway_resume_sequence",
		Help: "Last gateway sequence number observed per target.",
	}, []string{"target"})
)

// Handler returns the HTTP handler serving the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
