package domain

import (
	"errors"
	"strings"
	"time"
)

// User is an account that can log in. Tenant users belong to exactly one
// tenant; super admins have no tenant.
type User struct {
	ID           string
	TenantID     string // empty only for super admins
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Permissions  []string // granted in addition to the role's defaults
	Status       UserStatus
	MFAVerified  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleUser        Role = "user"
)

// rolePermissions are granted to every user with the role.
var rolePermissions = map[Role][]string{
	RoleSuperAdmin:  {"platform:admin", "tenants:manage", "violations:read"},
	RoleTenantAdmin: {"tenant:admin", "users:manage", "violations:read"},
	RoleUser:        {"tenant:read"},
}

// OwnerTenantID implements rls.Owned.
func (u *User) OwnerTenantID() string { return u.TenantID }

// IsSuperAdmin reports whether the user is a platform operator.
func (u *User) IsSuperAdmin() bool { return u.Role == RoleSuperAdmin }

// IsActive reports whether the user may log in.
func (u *User) IsActive() bool { return u.Status == UserStatusActive }

// EffectivePermissions returns the role defaults followed by any extra grants, without duplicates.
func (u *User) EffectivePermissions() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range append(append([]string(nil), rolePermissions[u.Role]...), u.Permissions...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	switch u.Role {
	case RoleSuperAdmin:
		if u.TenantID != "" {
			return errors.New("super admin cannot belong to a tenant")
		}
	case RoleTenantAdmin, RoleUser:
		if u.TenantID == "" {
			return errors.New("tenant is required")
		}
	default:
		return errors.New("unknown role")
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}
