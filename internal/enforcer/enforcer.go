// Package enforcer implements hot-path tool-call authorization. Authorize
// must never block: it reads an immutable state.Snapshot and pushes exactly
// one audit event through a non-blocking sink.
package enforcer

import (
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

// AuditSink is the narrow interface the Enforcer needs from AuditPipeline.
// Enqueue must never block the caller.
type AuditSink interface {
	Enqueue(partial domain.AuditEvent)
}

// Gauges lets the Enforcer report decision counts without importing the
// metrics package directly. A nil Gauges is fine: all calls are skipped.
type Gauges interface {
	IncEnforcerDecision(outcome, reason string)
}

// Enforcer authorizes tool calls against the shared EnforcerState.
type Enforcer struct {
	state  *state.EnforcerState
	audit  AuditSink
	gauges Gauges
	logger *zap.Logger
}

func New(st *state.EnforcerState, audit AuditSink, logger *zap.Logger) *Enforcer {
	return &Enforcer{state: st, audit: audit, logger: logger.Named("enforcer")}
}

// WithGauges attaches a metrics sink, returning the same Enforcer for
// chaining at construction time.
func (e *Enforcer) WithGauges(g Gauges) *Enforcer {
	e.gauges = g
	return e
}

// Authorize never panics: any unexpected internal condition falls through
// to allow+no_policy rather than reaching the host as an error.
func (e *Enforcer) Authorize(toolName, agentID, sessionKey string) (d domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = domain.Allow("no_policy")
			if e.logger != nil {
				e.logger.Error("enforcer panic recovered, failing open", zap.Any("recover", r))
			}
		}
	}()

	name := normalize(toolName)
	snap := e.state.Load()

	// Step 2: offline override fast paths.
	if snap.Override == domain.OverrideAllow {
		return e.finish(name, agentID, sessionKey, domain.Allow("offline_allow_mode"), domain.OutcomeAllowed, "offline_allow_mode")
	}

	// Step 3: kill switch, skipped entirely when evaluating against a
	// stale cached policy.
	if snap.Override != domain.OverrideCached {
		if snap.KillSwitch.Active {
			msg := snap.KillSwitch.Message
			if msg == "" {
				msg = "blocked by kill switch"
			}
			return e.finish(name, agentID, sessionKey, domain.Block(msg), domain.OutcomeBlocked, "kill_switch")
		}
	}

	// Step 4: policy evaluation.
	policy := snap.Policy
	if policy == nil {
		return e.finish(name, agentID, sessionKey, domain.Allow("no_policy"), domain.OutcomeAllowed, "no_policy")
	}

	if len(policy.Deny) > 0 {
		deny := expand(policy.Deny, e.logger)
		if deny[name] {
			return e.finish(name, agentID, sessionKey, domain.Block("tool is blocked by org policy"), domain.OutcomeBlocked, "deny_list")
		}
	}

	if len(policy.Allow) > 0 {
		allow := expand(policy.Allow, e.logger)
		if !allow[name] {
			return e.finish(name, agentID, sessionKey, domain.Block("tool is not in allowed list"), domain.OutcomeBlocked, "allow_list")
		}
	}

	return e.finish(name, agentID, sessionKey, domain.Allow(""), domain.OutcomeAllowed, "policy_allow")
}

func (e *Enforcer) finish(toolName, agentID, sessionKey string, d domain.Decision, outcome domain.Outcome, reason string) domain.Decision {
	if e.audit != nil {
		e.audit.Enqueue(domain.AuditEvent{
			AgentID:    agentID,
			SessionKey: sessionKey,
			EventType:  domain.EventToolCallAttempt,
			ToolName:   toolName,
			Outcome:    outcome,
			Reason:     reason,
		})
	}
	if e.gauges != nil {
		e.gauges.IncEnforcerDecision(string(outcome), reason)
	}
	return d
}
