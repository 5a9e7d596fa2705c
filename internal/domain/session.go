package domain

// SessionTokens is owned exclusively by SessionKeeper and published to
// consumers via callback on rotation. ExpiresAt must be strictly greater
// on every rotation.
type SessionTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAtMs  int64
	UserID       string
	OrgID        string
}
