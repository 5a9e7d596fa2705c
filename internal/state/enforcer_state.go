// Package state holds the shared mutable EnforcerState: the current
// policy, kill-switch flags, and offline override that the Enforcer reads
// on every tool call and that Heartbeat (and the policy-refresh callback)
// write. A single authorize call must see one consistent snapshot of
// (policy, killSwitch, offlineOverride); this is implemented as an
// immutable snapshot struct behind an atomic.Pointer, per spec.md §9,
// rather than a long-held mutex across I/O.
package state

import (
	"sync/atomic"

	"github.com/openclaw/clawforge/internal/domain"
)

// Snapshot is the immutable value the Enforcer reads.
type Snapshot struct {
	Policy     *domain.OrgPolicy
	KillSwitch domain.KillSwitchState
	Override   domain.OfflineOverride
}

// EnforcerState publishes Snapshot updates atomically.
type EnforcerState struct {
	ptr atomic.Pointer[Snapshot]
}

// New constructs an EnforcerState with no policy loaded, kill switch
// inactive, and no offline override — the state of a freshly authenticated
// session before its first heartbeat or policy fetch.
func New() *EnforcerState {
	s := &EnforcerState{}
	s.ptr.Store(&Snapshot{Override: domain.OverrideNone})
	return s
}

// Load returns the current snapshot. Safe to call from the hot path; never
// blocks.
func (s *EnforcerState) Load() *Snapshot {
	return s.ptr.Load()
}

// SetPolicy installs a new policy if it is newer than (or there is no)
// currently loaded policy, preserving the monotone-version invariant
// (spec.md §3). Returns false if the candidate was discarded as stale.
func (s *EnforcerState) SetPolicy(p *domain.OrgPolicy) bool {
	for {
		cur := s.ptr.Load()
		if cur.Policy != nil && !cur.Policy.Newer(p) {
			return false
		}
		next := &Snapshot{Policy: p, KillSwitch: cur.KillSwitch, Override: cur.Override}
		if s.ptr.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// SetKillSwitch updates the kill-switch flags in place.
func (s *EnforcerState) SetKillSwitch(ks domain.KillSwitchState) {
	for {
		cur := s.ptr.Load()
		next := &Snapshot{Policy: cur.Policy, KillSwitch: ks, Override: cur.Override}
		if s.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}

// SetOverride updates the offline override in place.
func (s *EnforcerState) SetOverride(o domain.OfflineOverride) {
	for {
		cur := s.ptr.Load()
		next := &Snapshot{Policy: cur.Policy, KillSwitch: cur.KillSwitch, Override: o}
		if s.ptr.CompareAndSwap(cur, next) {
			return
		}
	}
}
