package refill

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records orchestrator activity for Prometheus scraping.
// A nil *Metrics is valid and records nothing, so callers that do not
// expose an HTTP endpoint can pass nil.
type Metrics struct {
	turns        *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	escalations  *prometheus.CounterVec
	capabilities *prometheus.HistogramVec
}

// NewMetrics creates and registers the orchestrator metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rxpilot_turns_total",
			Help: "Conversation turns handled, labeled by outcome.",
		}, []string{"outcome"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rxpilot_transitions_total",
			Help: "Accepted state machine transitions.",
		}, []string{"from", "trigger"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rxpilot_escalations_total",
			Help: "Conversations routed to a human, labeled by escalation type and first reason.",
		}, []string{"type", "reason"}),
		capabilities: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rxpilot_capability_seconds",
			Help:    "Latency of pharmacy capability calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
	}
}

// Turn outcomes.
const (
	TurnOutcomeOK       = "ok"
	TurnOutcomeRejected = "rejected"
	TurnOutcomeError    = "error"
)

// RecordTurn counts one handled turn.
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// RecordTransition counts one accepted transition.
func (m *Metrics) RecordTransition(from State, trigger Trigger) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(trigger)).Inc()
}

// RecordEscalation counts one escalation hand-off.
func (m *Metrics) RecordEscalation(escType, reason string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(escType, reason).Inc()
}

// ObserveCapability records the duration of one capability call.
func (m *Metrics) ObserveCapability(capability string, d time.Duration) {
	if m == nil {
		return
	}
	m.capabilities.WithLabelValues(capability).Observe(d.Seconds())
}
