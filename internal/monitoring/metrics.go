// Package monitoring exposes prometheus collectors for the game server.
//
// A nil *Metrics is valid and records nothing, so components can take it as an optional
// dependency.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "musiguess"

type Metrics struct {
	registry *prometheus.Registry

	roomsCreated     prometheus.Counter
	gamesStarted     prometheus.Counter
	guesses          *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	staleSnapshots   prometheus.Counter
	storeErrors      *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	wsMessages       *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.SummaryVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created through the lobby.",
		}),
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_started_total",
			Help:      "Games that left the lobby.",
		}),
		guesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guesses_total",
			Help:      "Guess records written, by outcome and speed tier.",
		}, []string{"outcome", "tier"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_transitions_total",
			Help:      "Host-published room transitions.",
		}, []string{"transition"}),
		staleSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_snapshots_total",
			Help:      "Room snapshots discarded as stale or malformed.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed document store operations.",
		}, []string{"op"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Participant sessions currently attached to a room.",
		}),
		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Inbound websocket messages by type and result.",
		}, []string{"type", "result"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Metadata provider requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		providerLatency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "catalog_request_seconds",
			Help:       "Metadata provider request latency.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"endpoint"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.roomsCreated,
		m.gamesStarted,
		m.guesses,
		m.transitions,
		m.staleSnapshots,
		m.storeErrors,
		m.activeSessions,
		m.wsMessages,
		m.providerRequests,
		m.providerLatency,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoomCreated() {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
}

func (m *Metrics) GameStarted() {
	if m == nil {
		return
	}
	m.gamesStarted.Inc()
}

// GuessRecorded counts a written guess. outcome is correct, wrong or timeout.
func (m *Metrics) GuessRecorded(outcome, tier string) {
	if m == nil {
		return
	}
	m.guesses.WithLabelValues(outcome, tier).Inc()
}

func (m *Metrics) Transition(name string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(name).Inc()
}

func (m *Metrics) StaleSnapshot() {
	if m == nil {
		return
	}
	m.staleSnapshots.Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) WSMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.wsMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ProviderRequest(endpoint, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(endpoint, status).Inc()
	m.providerLatency.WithLabelValues(endpoint).Observe(took.Seconds())
}
