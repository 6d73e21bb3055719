// Package metrics provides Prometheus instrumentation for the consistency
// engine: remote call outcomes and latency, vote transitions, confirmation
// failures and puzzle attempts.
//
// All metric operations are safe for concurrent use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "puzzlegate"

// Metrics holds every collector. Create one per process with New.
type Metrics struct {
	// RemoteCallsTotal counts remote calls.
	// Labels: endpoint, outcome (ok, not_found, unauthorized, validation, transport)
	RemoteCallsTotal *prometheus.CounterVec

	// RemoteCallSeconds measures remote call latency.
	// Labels: endpoint
	RemoteCallSeconds *prometheus.HistogramVec

	// VoteTransitionsTotal counts local vote transitions.
	// Labels: item_type, transition (cast, retract, switch)
	VoteTransitionsTotal *prometheus.CounterVec

	// VoteConfirmFailuresTotal counts failed vote confirmations.
	// Labels: item_type, resolution (rolled_back, superseded, kept)
	VoteConfirmFailuresTotal *prometheus.CounterVec

	// AttemptsTotal counts puzzle attempts.
	// Labels: result (solved, rejected, already_solved, error)
	AttemptsTotal *prometheus.CounterVec

	// PendingConfirmations tracks queued vote confirmations.
	PendingConfirmations prometheus.Gauge
}

// New creates and registers all collectors with reg. A nil reg registers
// against a private registry, which keeps tests and multiple clients in one
// process from colliding on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RemoteCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "calls_total",
			Help:      "Remote service calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),

		RemoteCallSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "call_duration_seconds",
			Help:      "Remote service call latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),

		VoteTransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "transitions_total",
			Help:      "Optimistic vote transitions applied locally",
		}, []string{"item_type", "transition"}),

		VoteConfirmFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "confirm_failures_total",
			Help:      "Vote confirmations rejected by the remote service",
		}, []string{"item_type", "resolution"}),

		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "puzzles",
			Name:      "attempts_total",
			Help:      "Puzzle solution attempts by result",
		}, []string{"result"}),

		PendingConfirmations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "pending_confirmations",
			Help:      "Vote confirmations waiting to be sent",
		}),
	}
}

// ObserveRemote records one remote call.
func (m *Metrics) ObserveRemote(endpoint, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.RemoteCallSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Transition records one local vote transition.
func (m *Metrics) Transition(itemType, transition string) {
	if m == nil {
		return
	}
	m.VoteTransitionsTotal.WithLabelValues(itemType, transition).Inc()
}

// ConfirmFailure records one failed vote confirmation.
func (m *Metrics) ConfirmFailure(itemType, resolution string) {
	if m == nil {
		return
	}
	m.VoteConfirmFailuresTotal.WithLabelValues(itemType, resolution).Inc()
}

// Attempt records one puzzle attempt.
func (m *Metrics) Attempt(result string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(result).Inc()
}

// Pending adjusts the pending confirmation gauge.
func (m *Metrics) Pending(delta float64) {
	if m == nil {
		return
	}
	m.PendingConfirmations.Add(delta)
}
