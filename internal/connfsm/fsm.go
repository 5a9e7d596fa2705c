// Package connfsm implements a pure, observable connection state machine.
// It performs no I/O; Heartbeat reports outcomes to it and other
// components read its state via GetStatus.
package connfsm

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
)

// AuditSink is the narrow interface FSM needs to emit governance
// transition events.
type AuditSink interface {
	Enqueue(partial domain.AuditEvent)
}

// Gauges lets the FSM report its current state without importing metrics.
type Gauges interface {
	SetConnectionState(state domain.ConnState)
}

// FSM is the four-state connection state machine.
type FSM struct {
	mu        sync.Mutex
	status    domain.ConnectionStatus
	threshold int
	audit     AuditSink
	gauges    Gauges
	logger    *zap.Logger
	now       func() time.Time
}

// New constructs an FSM in the initial "connected" state — spec.md §4.3:
// "the FSM is only constructed after a successful authentication + policy
// fetch".
func New(failureThreshold int, audit AuditSink, gauges Gauges, logger *zap.Logger) *FSM {
	if failureThreshold <= 0 {
		failureThreshold = 10
	}
	f := &FSM{
		status:    domain.ConnectionStatus{State: domain.StateConnected},
		threshold: failureThreshold,
		audit:     audit,
		gauges:    gauges,
		logger:    logger.Named("connfsm"),
		now:       time.Now,
	}
	if f.gauges != nil {
		f.gauges.SetConnectionState(domain.StateConnected)
	}
	return f
}

// RecordSuccess transitions to connected from any state, resetting the
// failure count and stamping LastSuccessfulHeartbeat.
func (f *FSM) RecordSuccess() {
	f.mu.Lock()
	from := f.status.State
	f.status.State = domain.StateConnected
	f.status.ConsecutiveFailures = 0
	f.status.LastSuccessfulHeartbeat = f.now()
	to := f.status.State
	f.mu.Unlock()

	f.emit(from, to, 0)
}

// RecordFailure transitions to degraded or offline depending on whether
// the consecutive-failure count has crossed the threshold.
func (f *FSM) RecordFailure() {
	f.mu.Lock()
	from := f.status.State
	f.status.ConsecutiveFailures++
	failures := f.status.ConsecutiveFailures
	if failures >= f.threshold {
		f.status.State = domain.StateOffline
	} else {
		f.status.State = domain.StateDegraded
	}
	to := f.status.State
	f.mu.Unlock()

	f.emit(from, to, failures)
}

// SetUnauthenticated transitions to unauthenticated from any state. Only
// an explicit unauthenticated response from the server should call this
// (spec.md §4.5).
func (f *FSM) SetUnauthenticated() {
	f.mu.Lock()
	from := f.status.State
	f.status.State = domain.StateUnauthenticated
	to := f.status.State
	failures := f.status.ConsecutiveFailures
	f.mu.Unlock()

	f.emit(from, to, failures)
}

// GetStatus returns a snapshot of the current status.
func (f *FSM) GetStatus() domain.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// emit pushes one governance transition event, unless the state did not
// change (spec.md §4.3: "No event is emitted if state does not change").
// The legacy event type kill_switch_activated is preserved for wire
// compatibility; metadata.kind=connection_state disambiguates it from an
// actual kill-switch activation (spec.md §9 open question).
func (f *FSM) emit(from, to domain.ConnState, failures int) {
	if f.gauges != nil {
		f.gauges.SetConnectionState(to)
	}
	if from == to {
		return
	}

	outcome := domain.OutcomeError
	if to == domain.StateConnected {
		outcome = domain.OutcomeSuccess
	}

	if f.logger != nil {
		f.logger.Info("connection state transition",
			zap.String("from", string(from)), zap.String("to", string(to)),
			zap.Int("consecutive_failures", failures))
	}

	if f.audit != nil {
		f.audit.Enqueue(domain.AuditEvent{
			EventType: domain.EventKillSwitchChanged,
			Outcome:   outcome,
			Metadata: map[string]interface{}{
				"transitionType":      "connection_state_change",
				"kind":                "connection_state",
				"from":                string(from),
				"to":                  string(to),
				"consecutiveFailures": failures,
			},
		})
	}
}
