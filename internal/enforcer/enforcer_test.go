package enforcer

import (
	"testing"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

type recordingSink struct {
	events []domain.AuditEvent
}

func (s *recordingSink) Enqueue(e domain.AuditEvent) { s.events = append(s.events, e) }

func newTestEnforcer() (*Enforcer, *state.EnforcerState, *recordingSink) {
	st := state.New()
	sink := &recordingSink{}
	return New(st, sink, zap.NewNop()), st, sink
}

func TestAuthorize_NoPolicyAllowsEverything(t *testing.T) {
	e, _, sink := newTestEnforcer()
	d := e.Authorize("read", "agent-1", "sess-1")
	if !d.Allowed || d.Reason != "no_policy" {
		t.Fatalf("got %+v", d)
	}
	if len(sink.events) != 1 || sink.events[0].Outcome != domain.OutcomeAllowed {
		t.Fatalf("expected one allowed audit event, got %+v", sink.events)
	}
}

func TestAuthorize_DenyListBlocksExec(t *testing.T) {
	e, st, sink := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1, Deny: []domain.ToolSelector{"exec"}})

	d := e.Authorize("bash", "agent-1", "sess-1") // bash -> exec alias
	if d.Allowed || d.Reason != "tool is blocked by org policy" {
		t.Fatalf("got %+v", d)
	}
	if sink.events[0].Outcome != domain.OutcomeBlocked || sink.events[0].Reason != "deny_list" {
		t.Fatalf("got %+v", sink.events[0])
	}
	if sink.events[0].ToolName != "exec" {
		t.Fatalf("expected normalized tool name exec, got %q", sink.events[0].ToolName)
	}
}

func TestAuthorize_GroupAllowListAllowsFsReads(t *testing.T) {
	e, st, sink := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1, Allow: []domain.ToolSelector{"group:fs"}})

	d := e.Authorize("read", "agent-1", "sess-1")
	if !d.Allowed {
		t.Fatalf("got %+v", d)
	}
	if sink.events[0].Outcome != domain.OutcomeAllowed {
		t.Fatalf("got %+v", sink.events[0])
	}
}

func TestAuthorize_KillSwitchOverridesPolicy(t *testing.T) {
	e, st, sink := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1, Allow: []domain.ToolSelector{"read"}})
	st.SetKillSwitch(domain.KillSwitchState{Active: true, Message: "freeze"})

	d := e.Authorize("read", "agent-1", "sess-1")
	if d.Allowed || d.Reason != "freeze" {
		t.Fatalf("got %+v", d)
	}
	if sink.events[0].Reason != "kill_switch" {
		t.Fatalf("got %+v", sink.events[0])
	}
}

func TestAuthorize_OfflineAllowOverrideBypassesKillSwitch(t *testing.T) {
	e, st, _ := newTestEnforcer()
	st.SetKillSwitch(domain.KillSwitchState{Active: true, Message: "freeze"})
	st.SetOverride(domain.OverrideAllow)

	d := e.Authorize("exec", "agent-1", "sess-1")
	if !d.Allowed || d.Reason != "offline_allow_mode" {
		t.Fatalf("got %+v", d)
	}
}

func TestAuthorize_CachedOverrideSkipsKillSwitchButEvaluatesPolicy(t *testing.T) {
	e, st, _ := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1, Deny: []domain.ToolSelector{"exec"}})
	st.SetKillSwitch(domain.KillSwitchState{Active: true, Message: "freeze"})
	st.SetOverride(domain.OverrideCached)

	d := e.Authorize("exec", "agent-1", "sess-1")
	if d.Allowed {
		t.Fatalf("expected deny-list to still apply under cached override, got %+v", d)
	}
	if d.Reason != "tool is blocked by org policy" {
		t.Fatalf("got %+v", d)
	}
}

func TestAuthorize_DenyBeatsAllowWhenBothMatch(t *testing.T) {
	e, st, _ := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{
		Version: 1,
		Allow:   []domain.ToolSelector{"exec"},
		Deny:    []domain.ToolSelector{"exec"},
	})

	d := e.Authorize("exec", "agent-1", "sess-1")
	if d.Allowed {
		t.Fatalf("expected deny to win, got %+v", d)
	}
}

func TestAuthorize_UnknownGroupIsSkippedNotLiteral(t *testing.T) {
	e, st, _ := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1, Allow: []domain.ToolSelector{"group:unknown"}})

	// "group:unknown" must not become a literal allowed tool name, and an
	// empty effective allow-list still denies everything not listed.
	d := e.Authorize("read", "agent-1", "sess-1")
	if d.Allowed {
		t.Fatalf("expected deny since group:unknown contributes nothing to the allow-list, got %+v", d)
	}
}

func TestAuthorize_EmptyAllowAndDenyAllowsEverything(t *testing.T) {
	e, st, _ := newTestEnforcer()
	st.SetPolicy(&domain.OrgPolicy{Version: 1})

	d := e.Authorize("anything", "agent-1", "sess-1")
	if !d.Allowed {
		t.Fatalf("got %+v", d)
	}
}

func TestNormalize_TrimLowerAlias(t *testing.T) {
	cases := map[string]string{
		"  Bash  ":    "exec",
		"APPLY-PATCH": "apply_patch",
		"Read":        "read",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
