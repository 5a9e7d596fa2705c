// Package debugserver stands up a localhost-only introspection HTTP
// server for the CLI installer or a human operator to inspect a running
// engine process without touching its stdout. It never accepts a write
// that changes enforcement state — that remains the Heartbeat's exclusive
// job (spec.md §5).
//
// Grounded on the teacher's internal/console/server/server.go route
// grouping and middleware stack, trimmed to a read-only surface.
package debugserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/state"
)

// FSM is the narrow ConnectionFSM surface the server reads.
type FSM interface {
	GetStatus() domain.ConnectionStatus
}

// AuditLen reports the current in-memory audit buffer length.
type AuditLen interface {
	Len() int
}

// Server is the localhost-only debug/introspection HTTP server.
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	fsm   FSM
	state *state.EnforcerState
	audit AuditLen
}

// New constructs a Server. fsm, st, and audit may be nil in tests;
// handlers report zero values in that case.
func New(fsm FSM, st *state.EnforcerState, audit AuditLen, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("debugserver"),
		fsm:    fsm,
		state:  st,
		audit:  audit,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	ConnectionState     domain.ConnState       `json:"connectionState"`
	ConsecutiveFailures int                    `json:"consecutiveFailures"`
	PolicyVersion       int64                  `json:"policyVersion"`
	KillSwitchActive    bool                   `json:"killSwitchActive"`
	KillSwitchMessage   string                 `json:"killSwitchMessage,omitempty"`
	OfflineOverride     domain.OfflineOverride `json:"offlineOverride"`
	AuditBufferLen      int                    `json:"auditBufferLen"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{OfflineOverride: domain.OverrideNone}

	if s.fsm != nil {
		cs := s.fsm.GetStatus()
		resp.ConnectionState = cs.State
		resp.ConsecutiveFailures = cs.ConsecutiveFailures
	}
	if s.state != nil {
		snap := s.state.Load()
		if snap.Policy != nil {
			resp.PolicyVersion = snap.Policy.Version
		}
		resp.KillSwitchActive = snap.KillSwitch.Active
		resp.KillSwitchMessage = snap.KillSwitch.Message
		resp.OfflineOverride = snap.Override
	}
	if s.audit != nil {
		resp.AuditBufferLen = s.audit.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil && s.logger != nil {
		s.logger.Warn("failed to encode status response", zap.Error(err))
	}
}

// ServeHTTP lets Server stand in for http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
