// Package tenancy carries the per-request tenant context. A Context is built by
// the resolver, optionally refined once from a validated session, and read by
// everything downstream. It is only ever stored in a context.Context.
package tenancy

import (
	"context"
	"errors"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
)

// Source records where the tenant id came from.
type Source string

const (
	SourceHost    Source = "host"
	SourceSession Source = "session"
)

// ErrAlreadyAttached is returned when a request already carries a different tenant context.
var ErrAlreadyAttached = errors.New("tenancy: context already attached")

// Context identifies which tenant, or the platform operator, a request acts for.
// Its fields are unexported so a Context cannot be edited after construction.
type Context struct {
	tenantID   string
	superAdmin bool
	domain     string
	source     Source
}

// ForTenant returns the context of a request resolved to tenantID from its host.
func ForTenant(tenantID, domain string) Context {
	return Context{tenantID: tenantID, domain: domain, source: SourceHost}
}

// ForSuperAdmin returns the platform operator context. It has no tenant id.
func ForSuperAdmin(domain string) Context {
	return Context{superAdmin: true, domain: domain, source: SourceHost}
}

// Neutral returns the context of a request to the shared API domain. It carries
// no tenant until a session refines it.
func Neutral(domain string) Context {
	return Context{domain: domain, source: SourceHost}
}

func (c Context) TenantID() string   { return c.tenantID }
func (c Context) IsSuperAdmin() bool { return c.superAdmin }
func (c Context) Domain() string     { return c.domain }
func (c Context) Source() Source     { return c.source }

// HasTenant reports whether the context is scoped to exactly one tenant.
func (c Context) HasTenant() bool { return !c.superAdmin && c.tenantID != "" }

// IsNeutral reports whether the context has neither a tenant nor super-admin rights.
func (c Context) IsNeutral() bool { return !c.superAdmin && c.tenantID == "" }

// Refine fills the tenant of a neutral context from a validated session. A
// super-admin session on the neutral domain yields a super-admin context.
// A context that already has a tenant is never replaced: the same tenant is a
// no-op and a different one is a cross-tenant violation. Super-admin contexts
// are returned unchanged.
func (c Context) Refine(sessionTenantID string, sessionSuperAdmin bool) (Context, error) {
	switch {
	case c.superAdmin:
		return c, nil
	case c.tenantID != "":
		if sessionSuperAdmin || sessionTenantID == c.tenantID {
			return c, nil
		}
		return c, apperr.ErrCrossTenantViolation
	case sessionSuperAdmin:
		return Context{superAdmin: true, domain: c.domain, source: SourceSession}, nil
	case sessionTenantID != "":
		return Context{tenantID: sessionTenantID, domain: c.domain, source: SourceSession}, nil
	default:
		return c, nil
	}
}

type contextKey struct{ name string }

var tenantContextKey = contextKey{"tenant_context"}

// Attach stores tc in ctx. A request carries one tenant context: attaching a
// different one fails, except that a neutral context may be replaced by its own
// refinement (same domain).
func Attach(ctx context.Context, tc Context) (context.Context, error) {
	if prev, ok := FromContext(ctx); ok {
		if prev == tc {
			return ctx, nil
		}
		if !prev.IsNeutral() || prev.domain != tc.domain {
			return ctx, ErrAlreadyAttached
		}
	}
	return context.WithValue(ctx, tenantContextKey, tc), nil
}

// FromContext returns the tenant context and true if one is attached.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(tenantContextKey).(Context)
	return tc, ok
}

// Require returns the attached context when it is tenant-scoped or super-admin.
// A missing or neutral context is ContextMissing.
func Require(ctx context.Context) (Context, error) {
	tc, ok := FromContext(ctx)
	if !ok || tc.IsNeutral() {
		return Context{}, apperr.ErrContextMissing
	}
	return tc, nil
}
