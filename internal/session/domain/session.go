package domain

import "time"

// Role is the authorization role a session was created with.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleUser        Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleUser:
		return true
	}
	return false
}

// Kind is the client type of a session.
type Kind string

const (
	KindWeb    Kind = "web"
	KindAPI    Kind = "api"
	KindMobile Kind = "mobile"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWeb, KindAPI, KindMobile:
		return true
	}
	return false
}

// Maximum session lifetimes. Super admin takes precedence over kind.
const (
	MaxAgeSuperAdmin = 7 * 24 * time.Hour
	MaxAgeMobile     = 30 * 24 * time.Hour
	MaxAgeWeb        = 24 * time.Hour
	MaxAgeAPI        = time.Hour
)

// MaxAge returns the lifetime of a session with the given role and kind.
func MaxAge(role Role, kind Kind) time.Duration {
	if role == RoleSuperAdmin {
		return MaxAgeSuperAdmin
	}
	switch kind {
	case KindMobile:
		return MaxAgeMobile
	case KindAPI:
		return MaxAgeAPI
	default:
		return MaxAgeWeb
	}
}

// Session is an authenticated login bound to one user and, unless the user is
// a super admin, one tenant.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id,omitempty"` // empty for super admins
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions"`
	Kind        Kind      `json:"kind"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	MFAVerified bool      `json:"mfa_verified"`
	TokenHash   string    `json:"token_hash"` // SHA-256 of the current session token
	// PrevTokenHash is the token replaced by the last refresh. It is accepted
	// until PrevTokenUntil so requests already in flight with it still pass.
	PrevTokenHash  string    `json:"prev_token_hash,omitempty"`
	PrevTokenUntil time.Time `json:"prev_token_until,omitempty"`
	LoginAt        time.Time `json:"login_at"`
	// IssuedAt is when the current token was issued. It equals LoginAt until the first refresh.
	IssuedAt     time.Time `json:"issued_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenOverlap is how long a token replaced by a refresh stays valid.
const TokenOverlap = 30 * time.Second

// IsSuperAdmin reports whether the session carries platform-wide rights.
func (s *Session) IsSuperAdmin() bool { return s.Role == RoleSuperAdmin }

// MaxAge returns the session's maximum lifetime.
func (s *Session) MaxAge() time.Duration { return MaxAge(s.Role, s.Kind) }

// Age returns the time elapsed since login.
func (s *Session) Age(now time.Time) time.Duration { return now.Sub(s.LoginAt) }

// Deadline is the absolute end of the session: LoginAt plus MaxAge. Refreshes
// never move it.
func (s *Session) Deadline() time.Time { return s.LoginAt.Add(s.MaxAge()) }

// Expired reports whether the session has outlived its maximum age.
func (s *Session) Expired(now time.Time) bool {
	return s.Age(now) > s.MaxAge() || now.After(s.ExpiresAt)
}

// NeedsRefresh reports whether less than a quarter of the lifetime remains
// and the current token was issued before that last quarter began. A session
// is therefore refreshed at most once per lifetime.
func (s *Session) NeedsRefresh(now time.Time) bool {
	lastQuarter := s.Deadline().Add(-s.MaxAge() / 4)
	return now.After(lastQuarter) && s.IssuedAt.Before(lastQuarter)
}

// Refresh starts a new token window at now. The expiry is extended up to
// Deadline and no further; the current hash moves to PrevTokenHash and stays
// valid for TokenOverlap. The caller sets TokenHash for the new token.
func (s *Session) Refresh(now time.Time) {
	s.PrevTokenHash = s.TokenHash
	s.PrevTokenUntil = now.Add(TokenOverlap)
	s.TokenHash = ""
	s.IssuedAt = now
	if exp := now.Add(s.MaxAge()); exp.Before(s.Deadline()) {
		s.ExpiresAt = exp
	} else {
		s.ExpiresAt = s.Deadline()
	}
}

// HasPermission reports whether the session was granted perm.
func (s *Session) HasPermission(perm string) bool {
	for _, p := range s.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Permissions = append([]string(nil), s.Permissions...)
	return &cp
}

// Metadata is the client information compared on each validation.
type Metadata struct {
	IPAddress string
	UserAgent string
}
