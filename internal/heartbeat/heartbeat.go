// Package heartbeat implements the periodic control-plane poll of
// spec.md §4.4: it reports outcomes to the ConnectionFSM, mirrors
// kill-switch state into the shared EnforcerState, and drives the
// offline-behavior dispatch once consecutive failures cross the
// configured threshold.
//
// Grounded on the teacher's internal/engine/resilience.go
// (ListenStateResilient's reconnect/backoff loop), adapted from a Redis
// pub/sub subscribe loop to a time.Ticker poll loop, since the control
// plane here is polled over HTTP rather than pushed to over Redis.
package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/controlplane"
	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

// Prober is the narrow control-plane surface Heartbeat needs.
type Prober interface {
	Heartbeat(ctx context.Context, orgID, userID string) (*controlplane.HeartbeatResponse, error)
}

// FSM is the narrow ConnectionFSM surface Heartbeat drives.
type FSM interface {
	RecordSuccess()
	RecordFailure()
	SetUnauthenticated()
	GetStatus() domain.ConnectionStatus
}

// AuditSink lets Heartbeat record a kill_switch_activated event for real
// kill-switch edges (as opposed to ConnectionFSM's connection_state_change
// events, discriminated by metadata.kind per spec.md §9).
type AuditSink interface {
	Enqueue(partial domain.AuditEvent)
}

// Gauges reports heartbeat failures without importing the metrics package.
type Gauges interface {
	IncHeartbeatFailure()
}

// PolicyRefresher is invoked when the heartbeat response sets
// refreshPolicyNow; the policy client (an external collaborator per
// spec.md §1) fetches the new OrgPolicy out of band.
type PolicyRefresher func(ctx context.Context)

// Config bundles Heartbeat's tunables.
type Config struct {
	Interval         time.Duration // heartbeatIntervalMs, default 30s
	FailureThreshold int           // heartbeatFailureThreshold, default 10
	OfflineMode      domain.OfflineMode
	OrgID            string
	UserID           string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 10
	}
	if c.OfflineMode == "" {
		c.OfflineMode = domain.OfflineModeBlock
	}
	return c
}

// Heartbeat implements the periodic control-plane poll.
type Heartbeat struct {
	cfg       Config
	prober    Prober
	fsm       FSM
	state     *state.EnforcerState
	audit     AuditSink
	gauges    Gauges
	onRefresh PolicyRefresher
	logger    *zap.Logger

	mu          sync.Mutex
	token       string
	lastVersion int64 // last observed HeartbeatResponse.PolicyVersion; monotone

	generation atomic.Uint64 // incremented on Stop; discards late outcomes

	onMirror func(ks domain.KillSwitchState, override domain.OfflineOverride)

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func New(cfg Config, prober Prober, fsm FSM, st *state.EnforcerState, audit AuditSink, gauges Gauges, onRefresh PolicyRefresher, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		cfg:       cfg.withDefaults(),
		prober:    prober,
		fsm:       fsm,
		state:     st,
		audit:     audit,
		gauges:    gauges,
		onRefresh: onRefresh,
		logger:    logger.Named("heartbeat"),
		stopCh:    make(chan struct{}),
	}
}

// WithMirror attaches a callback invoked after every tick whose outcome is
// applied (whether or not it changed anything), with the current
// kill-switch/override state, so an optional localmirror.Mirror can
// propagate it to sibling processes.
func (h *Heartbeat) WithMirror(onMirror func(ks domain.KillSwitchState, override domain.OfflineOverride)) *Heartbeat {
	h.onMirror = onMirror
	return h
}

func (h *Heartbeat) publishMirror() {
	if h.onMirror == nil {
		return
	}
	snap := h.state.Load()
	h.onMirror(snap.KillSwitch, snap.Override)
}

// UpdateAccessToken is hot reconfiguration, called by SessionKeeper's
// rotation callback.
func (h *Heartbeat) UpdateAccessToken(token string) {
	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
}

// Start launches the periodic poll ticker.
func (h *Heartbeat) Start() {
	h.wg.Add(1)
	go h.run()
}

func (h *Heartbeat) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tick(context.Background())
		case <-h.stopCh:
			return
		}
	}
}

// Stop cancels the ticker and bumps the generation counter so any
// in-flight tick's outcome is discarded if it lands after Stop returns
// (spec.md §9: "prefer a generation counter so late outcomes are
// discarded").
func (h *Heartbeat) Stop() {
	h.once.Do(func() {
		h.generation.Add(1)
		close(h.stopCh)
	})
	h.wg.Wait()
}

// tick issues one heartbeat probe and applies its outcome, unless this
// Heartbeat has since been stopped.
func (h *Heartbeat) tick(ctx context.Context) {
	gen := h.generation.Load()
	resp, err := h.prober.Heartbeat(ctx, h.cfg.OrgID, h.cfg.UserID)
	if h.generation.Load() != gen {
		if h.logger != nil {
			h.logger.Debug("discarding heartbeat outcome that raced stop")
		}
		return
	}

	if err != nil {
		h.onFailure(err)
		h.publishMirror()
		return
	}
	h.onSuccess(ctx, resp)
	h.publishMirror()
}

func (h *Heartbeat) onSuccess(ctx context.Context, resp *controlplane.HeartbeatResponse) {
	if resp.Unauthenticated {
		h.fsm.SetUnauthenticated()
		return
	}

	h.fsm.RecordSuccess()

	snap := h.state.Load()
	if snap.Override != domain.OverrideNone {
		h.state.SetOverride(domain.OverrideNone)
		if h.logger != nil {
			h.logger.Info("connection restored, clearing offline override")
		}
	}

	h.mirrorKillSwitch(resp.KillSwitch, resp.KillSwitchMessage)

	versionAdvanced := h.observePolicyVersion(resp.PolicyVersion)
	if (resp.RefreshPolicyNow || versionAdvanced) && h.onRefresh != nil {
		h.onRefresh(ctx)
	}
}

// observePolicyVersion records the highest HeartbeatResponse.PolicyVersion
// seen so far and reports whether this call just advanced it. A response
// reporting a version at or behind what's already been observed is
// discarded rather than treated as a refresh signal, mirroring spec.md
// §5's rule that a policy refresh returning an older version is discarded.
// This exists as a fallback trigger alongside refreshPolicyNow: a server
// that bumps the version without also setting the flag still gets picked
// up on the next heartbeat.
func (h *Heartbeat) observePolicyVersion(version int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if version <= h.lastVersion {
		return false
	}
	h.lastVersion = version
	return true
}

// mirrorKillSwitch logs edges (activation/deactivation) but not steady
// state, per spec.md §4.4 step 3.
func (h *Heartbeat) mirrorKillSwitch(active bool, message string) {
	snap := h.state.Load()
	wasActive := snap.KillSwitch.Active

	h.state.SetKillSwitch(domain.KillSwitchState{Active: active, Message: message})

	if active == wasActive {
		return
	}
	if active {
		if h.logger != nil {
			h.logger.Warn("kill switch activated", zap.String("message", message))
		}
		h.emitKillSwitchEvent(true, message)
	} else {
		if h.logger != nil {
			h.logger.Info("kill switch deactivated")
		}
		h.emitKillSwitchEvent(false, message)
	}
}

// emitKillSwitchEvent records a real kill-switch edge, discriminated from
// ConnectionFSM's connection_state_change events by metadata.kind
// (spec.md §9 open question).
func (h *Heartbeat) emitKillSwitchEvent(active bool, message string) {
	if h.audit == nil {
		return
	}
	outcome := domain.OutcomeError
	if !active {
		outcome = domain.OutcomeSuccess
	}
	h.audit.Enqueue(domain.AuditEvent{
		EventType: domain.EventKillSwitchChanged,
		Outcome:   outcome,
		Metadata: map[string]interface{}{
			"kind":    "kill_switch",
			"active":  active,
			"message": message,
		},
	})
}

func (h *Heartbeat) onFailure(err error) {
	var unauthenticated *controlplane.UnauthenticatedError
	if errors.As(err, &unauthenticated) {
		h.fsm.SetUnauthenticated()
		return
	}

	h.fsm.RecordFailure()
	if h.gauges != nil {
		h.gauges.IncHeartbeatFailure()
	}

	status := h.fsm.GetStatus()
	if status.ConsecutiveFailures < h.cfg.FailureThreshold {
		return
	}

	h.applyOfflineBehavior()
}

// applyOfflineBehavior is invoked once consecutive failures cross the
// configured threshold (spec.md §4.4 step 2), and again on every failed
// tick thereafter while still offline. Block mode only activates, logs,
// and emits on the edge (kill switch not already active) — otherwise a
// sustained outage would re-emit an audit event and re-log a warning on
// every single tick, which is steady state, not an edge.
func (h *Heartbeat) applyOfflineBehavior() {
	switch h.cfg.OfflineMode {
	case domain.OfflineModeAllow:
		h.state.SetOverride(domain.OverrideAllow)
	case domain.OfflineModeCached:
		h.state.SetOverride(domain.OverrideCached)
	default: // block
		h.state.SetOverride(domain.OverrideNone)
		if h.state.Load().KillSwitch.Active {
			return
		}
		h.state.SetKillSwitch(domain.KillSwitchState{Active: true, Message: "cannot reach control plane"})
		if h.logger != nil {
			h.logger.Warn("activating kill switch: cannot reach control plane")
		}
		h.emitKillSwitchEvent(true, "cannot reach control plane")
	}
}
