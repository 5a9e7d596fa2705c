package connfsm

import (
	"testing"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
)

type recordingSink struct {
	events []domain.AuditEvent
}

func (s *recordingSink) Enqueue(e domain.AuditEvent) { s.events = append(s.events, e) }

func TestFSM_InitialStateConnected(t *testing.T) {
	f := New(3, nil, nil, zap.NewNop())
	if got := f.GetStatus().State; got != domain.StateConnected {
		t.Fatalf("got %v", got)
	}
}

func TestFSM_FailureThresholdFlipsToOffline(t *testing.T) {
	sink := &recordingSink{}
	f := New(2, sink, nil, zap.NewNop())

	f.RecordFailure()
	if got := f.GetStatus().State; got != domain.StateDegraded {
		t.Fatalf("got %v", got)
	}
	f.RecordFailure()
	st := f.GetStatus()
	if st.State != domain.StateOffline {
		t.Fatalf("got %v", st.State)
	}
	if st.ConsecutiveFailures < 2 {
		t.Fatalf("got %d", st.ConsecutiveFailures)
	}
}

func TestFSM_ThresholdOneFlipsImmediately(t *testing.T) {
	f := New(1, nil, nil, zap.NewNop())
	f.RecordFailure()
	if got := f.GetStatus().State; got != domain.StateOffline {
		t.Fatalf("got %v", got)
	}
}

func TestFSM_SuccessResetsFailuresAndStampsHeartbeat(t *testing.T) {
	f := New(2, nil, nil, zap.NewNop())
	f.RecordFailure()
	f.RecordSuccess()
	st := f.GetStatus()
	if st.State != domain.StateConnected || st.ConsecutiveFailures != 0 {
		t.Fatalf("got %+v", st)
	}
	if st.LastSuccessfulHeartbeat.IsZero() {
		t.Fatal("expected LastSuccessfulHeartbeat to be stamped")
	}
}

func TestFSM_NoEventWhenStateUnchanged(t *testing.T) {
	sink := &recordingSink{}
	f := New(5, sink, nil, zap.NewNop())
	f.RecordSuccess() // already connected -> connected, no transition
	if len(sink.events) != 0 {
		t.Fatalf("expected no events, got %+v", sink.events)
	}
	f.RecordFailure()
	f.RecordFailure()
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one transition event, got %d", len(sink.events))
	}
}

func TestFSM_EmittedEventHasDiscriminator(t *testing.T) {
	sink := &recordingSink{}
	f := New(1, sink, nil, zap.NewNop())
	f.RecordFailure()
	if len(sink.events) != 1 {
		t.Fatalf("expected one event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.EventType != domain.EventKillSwitchChanged {
		t.Fatalf("expected legacy event type preserved, got %v", e.EventType)
	}
	if e.Metadata["kind"] != "connection_state" {
		t.Fatalf("expected discriminator, got %+v", e.Metadata)
	}
	if e.Outcome != domain.OutcomeError {
		t.Fatalf("expected error outcome on non-connected transition, got %v", e.Outcome)
	}
}

func TestFSM_SetUnauthenticatedFromAnyState(t *testing.T) {
	f := New(1, nil, nil, zap.NewNop())
	f.RecordFailure() // -> offline
	f.SetUnauthenticated()
	if got := f.GetStatus().State; got != domain.StateUnauthenticated {
		t.Fatalf("got %v", got)
	}
}
