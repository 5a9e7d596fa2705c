package controlplane

// GrantType enumerates the token exchange grants accepted by
// POST /api/v1/auth/exchange.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantIDToken           GrantType = "id_token"
	GrantRefreshToken      GrantType = "refresh_token"
)

// AuthResponse is the body of a successful token exchange.
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAtMs  int64  `json:"expiresAt"`
	UserID       string `json:"userId"`
	OrgID        string `json:"orgId"`
}

// HeartbeatResponse is the body of a 2xx GET /api/v1/heartbeat/{orgId}/{userId}
// response.
type HeartbeatResponse struct {
	PolicyVersion     int64  `json:"policyVersion"`
	KillSwitch        bool   `json:"killSwitch"`
	KillSwitchMessage string `json:"killSwitchMessage,omitempty"`
	RefreshPolicyNow  bool   `json:"refreshPolicyNow"`
	Unauthenticated   bool   `json:"unauthenticated,omitempty"`
}

// auditEventsRequest is the body of POST /api/v1/audit/{orgId}/events.
// BatchID doubles as the Idempotency-Key header value, scoping it to a
// single shipment attempt rather than identifying a stable, retryable
// batch — see the ShipEvents doc comment. Per-event EventID is what makes
// spec.md §4.2's tolerated duplicate delivery recognizable to the server.
type auditEventsRequest struct {
	BatchID string      `json:"batchId"`
	Events  interface{} `json:"events"`
}
