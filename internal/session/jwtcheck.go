package session

import (
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// crossCheckExpiry parses the access token's exp claim without verifying
// its signature (the control plane owns verification) purely as a local
// clock-skew sanity check against the server-supplied expiresAt. A parse
// failure or a missing or non-numeric claim is silently ignored; only a
// disagreement of more than 60s is logged. The server-supplied expiresAt
// remains authoritative either way.
func crossCheckExpiry(accessToken string, serverExpiresAtMs int64, logger *zap.Logger) {
	if accessToken == "" {
		return
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return
	}
	expClaim, ok := claims["exp"]
	if !ok {
		return
	}
	var expSeconds float64
	switch v := expClaim.(type) {
	case float64:
		expSeconds = v
	default:
		return
	}
	tokenExpiresAtMs := int64(expSeconds * 1000)
	delta := tokenExpiresAtMs - serverExpiresAtMs
	if delta < 0 {
		delta = -delta
	}
	if delta > 60_000 && logger != nil {
		logger.Warn("access token exp claim disagrees with server-supplied expiresAt",
			zap.Int64("token_exp_ms", tokenExpiresAtMs), zap.Int64("server_expires_at_ms", serverExpiresAtMs))
	}
}
