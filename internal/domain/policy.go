package domain

import "time"

// AuditLevel controls how much detail an AuditEvent carries.
type AuditLevel string

const (
	AuditOff      AuditLevel = "off"
	AuditMetadata AuditLevel = "metadata"
	AuditFull     AuditLevel = "full"
)

// ToolSelector is either a concrete tool name or a "group:<id>" reference
// into the closed group table in groups.go.
type ToolSelector string

// OrgPolicy is the authoritative rule set for one organization at one
// version. Version never decreases for a given org in the local cache;
// callers enforce that invariant when replacing a cached policy.
type OrgPolicy struct {
	OrgID      string
	Version    int64
	Allow      []ToolSelector
	Deny       []ToolSelector
	AuditLevel AuditLevel
	FetchedAt  time.Time
}

// Newer reports whether candidate has a strictly greater version than p.
// A nil receiver treats any non-nil candidate as newer (no policy loaded yet).
func (p *OrgPolicy) Newer(candidate *OrgPolicy) bool {
	if candidate == nil {
		return false
	}
	if p == nil {
		return true
	}
	return candidate.Version > p.Version
}
