package domain

// EventType enumerates the audit event kinds the engine emits. The
// "kill_switch_activated" name is legacy and is reused for all
// ConnectionFSM transitions; metadata.kind disambiguates (see connfsm).
type EventType string

const (
	EventToolCallAttempt   EventType = "tool_call_attempt"
	EventKillSwitchChanged EventType = "kill_switch_activated"
	EventSession           EventType = "session_event"
)

// Outcome is the result recorded on an AuditEvent.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeBlocked Outcome = "blocked"
	OutcomeError   Outcome = "error"
	OutcomeSuccess Outcome = "success"
)

// AuditEvent is an immutable record, identified by its position in the
// buffer. It is created exactly once and never mutated after creation.
// EventID is a UUID stamped at enqueue time — the server's dedup key for
// the at-least-once delivery spec.md §4.2 allows ("duplicate delivery is
// possible on ambiguous errors and must be tolerated by the server").
type AuditEvent struct {
	EventID      string                 `json:"eventId"`
	UserID       string                 `json:"userId"`
	OrgID        string                 `json:"orgId"`
	AgentID      string                 `json:"agentId,omitempty"`
	SessionKey   string                 `json:"sessionKey,omitempty"`
	EventType    EventType              `json:"eventType"`
	ToolName     string                 `json:"toolName,omitempty"`
	Outcome      Outcome                `json:"outcome"`
	Reason       string                 `json:"reason,omitempty"`
	TimestampMs  int64                  `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	EnqueueSeq   uint64                 `json:"-"`
}
