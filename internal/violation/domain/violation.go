package domain

import (
	"maps"
	"time"
)

// Kind classifies a recorded security anomaly.
type Kind string

const (
	KindConcurrentLimit   Kind = "concurrent_limit"
	KindIPMismatch        Kind = "ip_mismatch"
	KindUserAgentMismatch Kind = "user_agent_mismatch"
	KindExpiredSession    Kind = "expired_session"
	KindInvalidSession    Kind = "invalid_session"
	KindCrossTenantAccess Kind = "cross_tenant_access"
	KindQueryViolation    Kind = "query_violation"
)

// Severity orders violations from informational to session-ending.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns 1..4 for known severities and 0 otherwise.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.Rank() >= other.Rank() }

// Violation is one recorded anomaly. References may be empty when unknown
// (e.g. an unparseable session token has no user).
type Violation struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	SessionID  string            `json:"session_id,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Kind       Kind              `json:"kind"`
	Severity   Severity          `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with v.
func (v Violation) Clone() Violation {
	v.Metadata = maps.Clone(v.Metadata)
	return v
}
