package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/connfsm"
	"github.com/openclaw/clawforge/internal/controlplane"
	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingSink) Enqueue(e domain.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type stubProber struct {
	mu   sync.Mutex
	resp *controlplane.HeartbeatResponse
	err  error
}

func (p *stubProber) Heartbeat(ctx context.Context, orgID, userID string) (*controlplane.HeartbeatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	r := *p.resp
	return &r, nil
}

func (p *stubProber) set(resp *controlplane.HeartbeatResponse, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resp, p.err = resp, err
}

func newTestHeartbeat(cfg Config, prober Prober, fsm FSM) (*Heartbeat, *state.EnforcerState, *recordingSink) {
	st := state.New()
	sink := &recordingSink{}
	hb := New(cfg, prober, fsm, st, sink, nil, nil, zap.NewNop())
	return hb, st, sink
}

func TestHeartbeat_SuccessRecordsConnectedAndClearsOverride(t *testing.T) {
	fsm := connfsm.New(2, nil, nil, zap.NewNop())
	prober := &stubProber{resp: &controlplane.HeartbeatResponse{}}
	hb, st, _ := newTestHeartbeat(Config{}, prober, fsm)
	st.SetOverride(domain.OverrideAllow)

	hb.tick(context.Background())

	if fsm.GetStatus().State != domain.StateConnected {
		t.Fatalf("got %v", fsm.GetStatus().State)
	}
	if st.Load().Override != domain.OverrideNone {
		t.Fatalf("expected override cleared, got %v", st.Load().Override)
	}
}

func TestHeartbeat_FailureBelowThresholdDoesNotActivateOfflineBehavior(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{err: errors.New("boom")}
	hb, st, _ := newTestHeartbeat(Config{FailureThreshold: 5, OfflineMode: domain.OfflineModeBlock}, prober, fsm)

	hb.tick(context.Background())

	if st.Load().KillSwitch.Active {
		t.Fatal("expected kill switch inactive below threshold")
	}
}

func TestHeartbeat_BlockModeActivatesKillSwitchAtThreshold(t *testing.T) {
	fsm := connfsm.New(1, nil, nil, zap.NewNop())
	prober := &stubProber{err: errors.New("boom")}
	hb, st, sink := newTestHeartbeat(Config{FailureThreshold: 1, OfflineMode: domain.OfflineModeBlock}, prober, fsm)

	hb.tick(context.Background())

	ks := st.Load().KillSwitch
	if !ks.Active || ks.Message != "cannot reach control plane" {
		t.Fatalf("got %+v", ks)
	}
	if sink.len() != 1 {
		t.Fatalf("expected one kill-switch audit event, got %d", sink.len())
	}
}

func TestHeartbeat_BlockModeSteadyStateDoesNotReEmit(t *testing.T) {
	fsm := connfsm.New(1, nil, nil, zap.NewNop())
	prober := &stubProber{err: errors.New("boom")}
	hb, _, sink := newTestHeartbeat(Config{FailureThreshold: 1, OfflineMode: domain.OfflineModeBlock}, prober, fsm)

	hb.tick(context.Background())
	hb.tick(context.Background())
	hb.tick(context.Background())

	if sink.len() != 1 {
		t.Fatalf("expected exactly one kill-switch audit event across repeated offline ticks, got %d", sink.len())
	}
}

func TestHeartbeat_AllowModeSetsOverride(t *testing.T) {
	fsm := connfsm.New(1, nil, nil, zap.NewNop())
	prober := &stubProber{err: errors.New("boom")}
	hb, st, _ := newTestHeartbeat(Config{FailureThreshold: 1, OfflineMode: domain.OfflineModeAllow}, prober, fsm)

	hb.tick(context.Background())

	if st.Load().Override != domain.OverrideAllow {
		t.Fatalf("got %v", st.Load().Override)
	}
}

func TestHeartbeat_CachedModeSetsOverride(t *testing.T) {
	fsm := connfsm.New(1, nil, nil, zap.NewNop())
	prober := &stubProber{err: errors.New("boom")}
	hb, st, _ := newTestHeartbeat(Config{FailureThreshold: 1, OfflineMode: domain.OfflineModeCached}, prober, fsm)

	hb.tick(context.Background())

	if st.Load().Override != domain.OverrideCached {
		t.Fatalf("got %v", st.Load().Override)
	}
}

func TestHeartbeat_KillSwitchMirroredOnlyLogsEdges(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{resp: &controlplane.HeartbeatResponse{KillSwitch: true, KillSwitchMessage: "frozen"}}
	hb, st, sink := newTestHeartbeat(Config{}, prober, fsm)

	hb.tick(context.Background())
	if !st.Load().KillSwitch.Active {
		t.Fatal("expected kill switch mirrored active")
	}
	if sink.len() != 1 {
		t.Fatalf("expected one edge event on activation, got %d", sink.len())
	}

	// Steady-state tick: still active, no new edge event.
	hb.tick(context.Background())
	if sink.len() != 1 {
		t.Fatalf("expected no new event on steady state, got %d", sink.len())
	}
}

func TestHeartbeat_UnauthenticatedTransitionsFSM(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{err: &controlplane.UnauthenticatedError{}}
	hb, _, _ := newTestHeartbeat(Config{}, prober, fsm)

	hb.tick(context.Background())

	if fsm.GetStatus().State != domain.StateUnauthenticated {
		t.Fatalf("got %v", fsm.GetStatus().State)
	}
}

func TestHeartbeat_RefreshPolicyNowInvokesCallback(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{resp: &controlplane.HeartbeatResponse{RefreshPolicyNow: true}}
	st := state.New()
	var called bool
	var mu sync.Mutex
	hb := New(Config{}, prober, fsm, st, nil, nil, func(ctx context.Context) {
		mu.Lock()
		called = true
		mu.Unlock()
	}, zap.NewNop())

	hb.tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if !called {
		t.Fatal("expected onPolicyRefreshNeeded to be invoked")
	}
}

func TestHeartbeat_PolicyVersionAdvanceTriggersRefreshWithoutFlag(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{resp: &controlplane.HeartbeatResponse{PolicyVersion: 3}}
	st := state.New()
	var calls int
	var mu sync.Mutex
	hb := New(Config{}, prober, fsm, st, nil, nil, func(ctx context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, zap.NewNop())

	hb.tick(context.Background())
	hb.tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one refresh triggered by the version advancing from 0 to 3, got %d", calls)
	}
}

func TestHeartbeat_StalePolicyVersionDiscarded(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &stubProber{resp: &controlplane.HeartbeatResponse{PolicyVersion: 5}}
	st := state.New()
	var calls int
	var mu sync.Mutex
	hb := New(Config{}, prober, fsm, st, nil, nil, func(ctx context.Context) {
		mu.Lock()
		calls++
		mu.Unlock()
	}, zap.NewNop())

	hb.tick(context.Background()) // observes version 5, triggers once

	prober.set(&controlplane.HeartbeatResponse{PolicyVersion: 4}, nil) // stale, behind what's observed
	hb.tick(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected the stale version 4 to be discarded after observing 5, got %d calls", calls)
	}
}

type blockingProber struct {
	entered chan struct{}
	release chan struct{}
	resp    *controlplane.HeartbeatResponse
}

func (p *blockingProber) Heartbeat(ctx context.Context, orgID, userID string) (*controlplane.HeartbeatResponse, error) {
	close(p.entered)
	<-p.release
	r := *p.resp
	return &r, nil
}

func TestHeartbeat_StopDiscardsLateOutcome(t *testing.T) {
	fsm := connfsm.New(5, nil, nil, zap.NewNop())
	prober := &blockingProber{entered: make(chan struct{}), release: make(chan struct{}), resp: &controlplane.HeartbeatResponse{}}
	hb, _, _ := newTestHeartbeat(Config{Interval: time.Hour}, prober, fsm)

	before := fsm.GetStatus()

	done := make(chan struct{})
	go func() {
		hb.tick(context.Background())
		close(done)
	}()

	<-prober.entered     // the tick has read the generation and is blocked in the probe
	hb.generation.Add(1) // simulate Stop() racing the in-flight tick
	close(prober.release)
	<-done

	after := fsm.GetStatus()
	if before != after {
		t.Fatalf("expected no state change after generation bump raced the tick, got %+v -> %+v", before, after)
	}
}
