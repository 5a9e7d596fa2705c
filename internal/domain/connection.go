package domain

import "time"

// ConnState is one of the ConnectionFSM's four states.
type ConnState string

const (
	StateConnected      ConnState = "connected"
	StateDegraded       ConnState = "degraded"
	StateOffline        ConnState = "offline"
	StateUnauthenticated ConnState = "unauthenticated"
)

// ConnectionStatus is the observable snapshot exposed by ConnectionFSM.GetStatus.
type ConnectionStatus struct {
	State                   ConnState
	LastSuccessfulHeartbeat time.Time
	ConsecutiveFailures     int
	CachedPolicyAgeMs       int64
}
