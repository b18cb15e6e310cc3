// Package rls scopes every data access to the request's tenant. Handlers obtain
// filters, payloads and SQL builders only through an Enforcer bound to the
// request's tenancy.Context; super-admin contexts pass through unscoped.
package rls

import (
	"context"
	"fmt"
	"maps"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// TenantKey is the canonical tenant field in filters and payloads.
const TenantKey = "tenant_id"

// tenantKeys are every spelling of the tenant field accepted from clients.
var tenantKeys = []string{TenantKey, "tenantId"}

// Owned is implemented by records that belong to one tenant.
type Owned interface {
	OwnerTenantID() string
}

// Enforcer applies tenant scoping for one request.
type Enforcer struct {
	tc        tenancy.Context
	recorder  violation.Recorder
	userID    string
	sessionID string
}

// New returns an Enforcer for tc. recorder may be nil in tests that do not
// inspect violations.
func New(tc tenancy.Context, recorder violation.Recorder) *Enforcer {
	return &Enforcer{tc: tc, recorder: recorder}
}

// FromContext builds an Enforcer from the tenant context attached to ctx.
func FromContext(ctx context.Context, recorder violation.Recorder) (*Enforcer, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrContextMissing
	}
	return New(tc, recorder), nil
}

// WithActor returns a copy that attributes violations to the given user and session.
func (e *Enforcer) WithActor(userID, sessionID string) *Enforcer {
	cp := *e
	cp.userID = userID
	cp.sessionID = sessionID
	return &cp
}

// Context returns the tenant context the enforcer is bound to.
func (e *Enforcer) Context() tenancy.Context { return e.tc }

func (e *Enforcer) requireScope() error {
	if e.tc.IsSuperAdmin() || e.tc.HasTenant() {
		return nil
	}
	return apperr.ErrContextMissing
}

// ScopedFilter returns base with the tenant condition merged in. A base that
// already names another tenant is rejected rather than overwritten.
func (e *Enforcer) ScopedFilter(ctx context.Context, base map[string]any) (map[string]any, error) {
	if err := e.requireScope(); err != nil {
		return nil, err
	}
	out := maps.Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	if e.tc.IsSuperAdmin() {
		return out, nil
	}
	if err := e.checkTenantFields(ctx, out, "filter"); err != nil {
		return nil, err
	}
	delete(out, "tenantId")
	out[TenantKey] = e.tc.TenantID()
	return out, nil
}

// ScopedSelect adds the tenant predicate on column to a squirrel SELECT.
func (e *Enforcer) ScopedSelect(b sq.SelectBuilder, column string) (sq.SelectBuilder, error) {
	if err := e.requireScope(); err != nil {
		return b, err
	}
	if e.tc.IsSuperAdmin() {
		return b, nil
	}
	return b.Where(sq.Eq{column: e.tc.TenantID()}), nil
}

// ScopedUpdate adds the tenant predicate on column to a squirrel UPDATE.
func (e *Enforcer) ScopedUpdate(b sq.UpdateBuilder, column string) (sq.UpdateBuilder, error) {
	if err := e.requireScope(); err != nil {
		return b, err
	}
	if e.tc.IsSuperAdmin() {
		return b, nil
	}
	return b.Where(sq.Eq{column: e.tc.TenantID()}), nil
}

// ScopedDelete adds the tenant predicate on column to a squirrel DELETE.
func (e *Enforcer) ScopedDelete(b sq.DeleteBuilder, column string) (sq.DeleteBuilder, error) {
	if err := e.requireScope(); err != nil {
		return b, err
	}
	if e.tc.IsSuperAdmin() {
		return b, nil
	}
	return b.Where(sq.Eq{column: e.tc.TenantID()}), nil
}

// EnsureTenantID returns payload with the tenant field set to the context
// tenant. It is idempotent. A payload naming another tenant is rejected.
// Super-admin payloads are returned unchanged.
func (e *Enforcer) EnsureTenantID(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if err := e.requireScope(); err != nil {
		return nil, err
	}
	out := maps.Clone(payload)
	if out == nil {
		out = map[string]any{}
	}
	if e.tc.IsSuperAdmin() {
		return out, nil
	}
	if err := e.checkTenantFields(ctx, out, "payload"); err != nil {
		return nil, err
	}
	if _, ok := out[TenantKey]; !ok {
		if v, ok := out["tenantId"]; ok {
			out[TenantKey] = v
		} else {
			out[TenantKey] = e.tc.TenantID()
		}
	}
	return out, nil
}

// ValidateOwnership reports whether doc belongs to the context tenant. Super
// admins own everything.
func (e *Enforcer) ValidateOwnership(doc Owned) bool {
	if e.tc.IsSuperAdmin() {
		return true
	}
	if doc == nil || !e.tc.HasTenant() {
		return false
	}
	return doc.OwnerTenantID() == e.tc.TenantID()
}

// RequireOwnership is ValidateOwnership that records and returns a violation on failure.
func (e *Enforcer) RequireOwnership(ctx context.Context, doc Owned) error {
	if err := e.requireScope(); err != nil {
		return err
	}
	if e.ValidateOwnership(doc) {
		return nil
	}
	other := ""
	if doc != nil {
		other = doc.OwnerTenantID()
	}
	return e.crossTenant(ctx, other, "ownership")
}

// RejectCrossTenantReference rejects a tenant id taken from a request (path,
// query, body) that differs from the context tenant. Empty candidates pass.
func (e *Enforcer) RejectCrossTenantReference(ctx context.Context, candidate string) error {
	if err := e.requireScope(); err != nil {
		return err
	}
	if e.tc.IsSuperAdmin() || candidate == "" || candidate == e.tc.TenantID() {
		return nil
	}
	return e.crossTenant(ctx, candidate, "reference")
}

// RejectUnsafeQueryOperators walks input and rejects operator syntax. See FindUnsafe.
func (e *Enforcer) RejectUnsafeQueryOperators(ctx context.Context, input any) error {
	finding, ok := FindUnsafe(input)
	if !ok {
		return nil
	}
	e.record(ctx, vdomain.KindQueryViolation, vdomain.SeverityHigh, map[string]string{
		"path":   finding.Path,
		"reason": finding.Reason,
	})
	return apperr.Wrap(fmt.Errorf("%s at %s", finding.Reason, finding.Path), apperr.CodeUnsafeQuery, "unsafe query input")
}

func (e *Enforcer) checkTenantFields(ctx context.Context, m map[string]any, where string) error {
	for _, k := range tenantKeys {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return e.crossTenant(ctx, fmt.Sprint(v), where)
		}
		if s != e.tc.TenantID() {
			return e.crossTenant(ctx, s, where)
		}
	}
	return nil
}

func (e *Enforcer) crossTenant(ctx context.Context, other, where string) error {
	e.record(ctx, vdomain.KindCrossTenantAccess, vdomain.SeverityCritical, map[string]string{
		"requested_tenant": other,
		"source":           where,
		"domain":           e.tc.Domain(),
	})
	return apperr.ErrCrossTenantViolation
}

func (e *Enforcer) record(ctx context.Context, kind vdomain.Kind, sev vdomain.Severity, meta map[string]string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, vdomain.Violation{
		TenantID:  e.tc.TenantID(),
		UserID:    e.userID,
		SessionID: e.sessionID,
		Kind:      kind,
		Severity:  sev,
		Metadata:  meta,
	})
}
