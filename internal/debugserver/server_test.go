package debugserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/connfsm"
	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

func TestServer_Healthz(t *testing.T) {
	s := New(nil, nil, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestServer_StatusReportsCurrentState(t *testing.T) {
	fsm := connfsm.New(3, nil, nil, zap.NewNop())
	st := state.New()
	st.SetPolicy(&domain.OrgPolicy{Version: 7})
	st.SetKillSwitch(domain.KillSwitchState{Active: true, Message: "frozen"})

	s := New(fsm, st, nil, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ConnectionState != domain.StateConnected {
		t.Fatalf("got %+v", body)
	}
	if body.PolicyVersion != 7 {
		t.Fatalf("got %+v", body)
	}
	if !body.KillSwitchActive || body.KillSwitchMessage != "frozen" {
		t.Fatalf("got %+v", body)
	}
}
