// Package metrics retargets the teacher's prometheus instrumentation at
// this engine's concerns: audit backpressure, connection state, heartbeat
// failures, session refresh outcomes, and enforcer decisions.
//
// Grounded on internal/engine/metrics.go's NewMetrics (promauto.With,
// null-registry fallback when reg is nil).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openclaw/clawforge/internal/domain"
)

// Metrics holds every gauge/counter the engine exports.
type Metrics struct {
	AuditBufferFill        prometheus.Gauge
	AuditEventsDroppedTotal *prometheus.CounterVec
	ConnectionState        *prometheus.GaugeVec
	HeartbeatFailuresTotal prometheus.Counter
	SessionRefreshTotal    *prometheus.CounterVec
	EnforcerDecisionsTotal *prometheus.CounterVec
}

// New constructs Metrics against reg. A nil reg (the Null Object pattern
// used by the teacher) registers against a private, unconnected registry
// so callers never need a nil check before incrementing.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "clawforge_audit_buffer_fill",
			Help: "Current number of events held in the in-memory audit buffer.",
		}),
		AuditEventsDroppedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "clawforge_audit_events_dropped_total",
			Help: "Total audit events dropped, by reason.",
		}, []string{"reason"}),
		ConnectionState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "clawforge_connection_state",
			Help: "1 if the engine is currently in the named connection state, else 0.",
		}, []string{"state"}),
		HeartbeatFailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "clawforge_heartbeat_failures_total",
			Help: "Total heartbeat ticks that ended in a non-2xx response or transport error.",
		}),
		SessionRefreshTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "clawforge_session_refresh_total",
			Help: "Total session refresh attempts, by outcome.",
		}, []string{"outcome"}),
		EnforcerDecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "clawforge_enforcer_decisions_total",
			Help: "Total authorize() decisions, by outcome and reason.",
		}, []string{"outcome", "reason"}),
	}
}

// SetAuditBufferFill and IncAuditDropped satisfy audit.BufferGauges.
func (m *Metrics) SetAuditBufferFill(n int) { m.AuditBufferFill.Set(float64(n)) }
func (m *Metrics) IncAuditDropped(reason string) {
	m.AuditEventsDroppedTotal.WithLabelValues(reason).Inc()
}

// SetConnectionState satisfies connfsm.Gauges: it sets the named state's
// gauge to 1 and every other known state's gauge to 0, so a single
// Prometheus query can chart "current state" as a step function.
func (m *Metrics) SetConnectionState(state domain.ConnState) {
	for _, s := range []domain.ConnState{domain.StateConnected, domain.StateDegraded, domain.StateOffline, domain.StateUnauthenticated} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(v)
	}
}

// IncHeartbeatFailure satisfies heartbeat.Gauges.
func (m *Metrics) IncHeartbeatFailure() { m.HeartbeatFailuresTotal.Inc() }

// IncSessionRefresh records a session refresh attempt's outcome
// ("success" or "failure").
func (m *Metrics) IncSessionRefresh(outcome string) {
	m.SessionRefreshTotal.WithLabelValues(outcome).Inc()
}

// IncEnforcerDecision records one authorize() decision.
func (m *Metrics) IncEnforcerDecision(outcome, reason string) {
	m.EnforcerDecisionsTotal.WithLabelValues(outcome, reason).Inc()
}
