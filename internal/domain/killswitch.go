package domain

// KillSwitchState is owned by EnforcerState and mutated only by Heartbeat.
// When Active, every tool call is denied regardless of policy.
type KillSwitchState struct {
	Active  bool
	Message string
}

// OfflineOverride changes enforcement once the control plane is
// unreachable for heartbeatFailureThreshold consecutive ticks.
type OfflineOverride string

const (
	OverrideNone   OfflineOverride = "none"
	OverrideAllow  OfflineOverride = "allow"
	OverrideCached OfflineOverride = "cached"
)

// OfflineMode is the configured behavior Heartbeat applies once offline.
type OfflineMode string

const (
	OfflineModeBlock  OfflineMode = "block"
	OfflineModeAllow  OfflineMode = "allow"
	OfflineModeCached OfflineMode = "cached"
)
