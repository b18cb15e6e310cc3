package rls

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	sq "github.com/Masterminds/squirrel"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// recorderSpy implements violation.Recorder for tests.
type recorderSpy struct {
	mu  sync.Mutex
	got []vdomain.Violation
}

func (r *recorderSpy) Record(ctx context.Context, v vdomain.Violation) vdomain.Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
	return v
}

type doc struct{ tenant string }

func (d doc) OwnerTenantID() string { return d.tenant }

func matches(d map[string]any, filter map[string]any) bool {
	for k, v := range filter {
		if d[k] != v {
			return false
		}
	}
	return true
}

func TestScopedFilter_OnlyReturnsContextTenant(t *testing.T) {
	docs := []map[string]any{
		{"tenant_id": "A", "kind": "visa"},
		{"tenant_id": "B", "kind": "visa"},
		{"tenant_id": "A", "kind": "work"},
		{"tenant_id": "C", "kind": "visa"},
	}
	bases := []map[string]any{nil, {}, {"kind": "visa"}, {"tenant_id": "A"}, {"tenantId": "A", "kind": "work"}}
	for _, tenant := range []string{"A", "B", "C"} {
		e := New(tenancy.ForTenant(tenant, "d"), nil)
		for _, base := range bases {
			f, err := e.ScopedFilter(context.Background(), base)
			if err != nil {
				if tenant != "A" {
					continue
				}
				t.Fatalf("ScopedFilter(%v): %v", base, err)
			}
			for _, d := range docs {
				if matches(d, f) && d["tenant_id"] != tenant {
					t.Errorf("tenant %s filter %v matched foreign doc %v", tenant, f, d)
				}
			}
		}
	}
}

func TestScopedFilter_RejectsForeignTenant(t *testing.T) {
	spy := &recorderSpy{}
	e := New(tenancy.ForTenant("A", "a.example.com"), spy).WithActor("u1", "s1")

	_, err := e.ScopedFilter(context.Background(), map[string]any{"tenant_id": "B"})
	if !errors.Is(err, apperr.ErrCrossTenantViolation) {
		t.Fatalf("err = %v, want cross-tenant", err)
	}
	if len(spy.got) != 1 {
		t.Fatalf("recorded %d violations, want 1", len(spy.got))
	}
	v := spy.got[0]
	if v.Kind != vdomain.KindCrossTenantAccess || v.Severity != vdomain.SeverityCritical {
		t.Errorf("violation = %s/%s", v.Kind, v.Severity)
	}
	if v.TenantID != "A" || v.UserID != "u1" || v.SessionID != "s1" || v.Metadata["requested_tenant"] != "B" {
		t.Errorf("violation refs = %+v", v)
	}
}

func TestScopedFilter_DoesNotMutateBase(t *testing.T) {
	e := New(tenancy.ForTenant("A", "d"), nil)
	base := map[string]any{"kind": "visa"}
	if _, err := e.ScopedFilter(context.Background(), base); err != nil {
		t.Fatalf("ScopedFilter: %v", err)
	}
	if _, ok := base[TenantKey]; ok {
		t.Error("base filter was mutated")
	}
}

func TestScopedFilter_SuperAdminPassThrough(t *testing.T) {
	e := New(tenancy.ForSuperAdmin("admin"), nil)
	f, err := e.ScopedFilter(context.Background(), map[string]any{"tenant_id": "B"})
	if err != nil {
		t.Fatalf("ScopedFilter: %v", err)
	}
	if f["tenant_id"] != "B" {
		t.Errorf("super admin filter changed: %v", f)
	}
}

func TestScopedFilter_MissingContext(t *testing.T) {
	e := New(tenancy.Neutral("api"), nil)
	if _, err := e.ScopedFilter(context.Background(), nil); !errors.Is(err, apperr.ErrContextMissing) {
		t.Errorf("err = %v, want ContextMissing", err)
	}
	if _, err := FromContext(context.Background(), nil); !errors.Is(err, apperr.ErrContextMissing) {
		t.Errorf("FromContext err = %v, want ContextMissing", err)
	}
}

func TestEnsureTenantID_Idempotent(t *testing.T) {
	e := New(tenancy.ForTenant("A", "d"), nil)
	ctx := context.Background()
	for _, payload := range []map[string]any{
		{"name": "x"},
		{"name": "x", "tenant_id": "A"},
		{"name": "x", "tenantId": "A"},
	} {
		once, err := e.EnsureTenantID(ctx, payload)
		if err != nil {
			t.Fatalf("EnsureTenantID(%v): %v", payload, err)
		}
		twice, err := e.EnsureTenantID(ctx, once)
		if err != nil {
			t.Fatalf("EnsureTenantID twice: %v", err)
		}
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("not idempotent: %v vs %v", once, twice)
		}
		if once[TenantKey] != "A" {
			t.Errorf("tenant_id = %v, want A", once[TenantKey])
		}
	}
}

func TestEnsureTenantID_RejectsMismatch(t *testing.T) {
	spy := &recorderSpy{}
	e := New(tenancy.ForTenant("A", "d"), spy)
	for _, payload := range []map[string]any{
		{"tenant_id": "B"},
		{"tenantId": "B"},
		{"tenant_id": 42},
	} {
		out, err := e.EnsureTenantID(context.Background(), payload)
		if !errors.Is(err, apperr.ErrCrossTenantViolation) {
			t.Errorf("EnsureTenantID(%v) err = %v, want cross-tenant", payload, err)
		}
		if out != nil {
			t.Errorf("rejected payload should not be returned, got %v", out)
		}
	}
	if len(spy.got) != 3 {
		t.Errorf("recorded %d violations, want 3", len(spy.got))
	}
}

func TestValidateOwnership(t *testing.T) {
	tenant := New(tenancy.ForTenant("A", "d"), nil)
	admin := New(tenancy.ForSuperAdmin("admin"), nil)
	neutral := New(tenancy.Neutral("api"), nil)

	if !tenant.ValidateOwnership(doc{"A"}) {
		t.Error("own doc should validate")
	}
	if tenant.ValidateOwnership(doc{"B"}) {
		t.Error("foreign doc should not validate")
	}
	if !admin.ValidateOwnership(doc{"B"}) {
		t.Error("super admin owns everything")
	}
	if neutral.ValidateOwnership(doc{""}) {
		t.Error("neutral context owns nothing")
	}

	spy := &recorderSpy{}
	if err := New(tenancy.ForTenant("A", "d"), spy).RequireOwnership(context.Background(), doc{"B"}); !errors.Is(err, apperr.ErrCrossTenantViolation) {
		t.Errorf("RequireOwnership err = %v", err)
	}
	if len(spy.got) != 1 {
		t.Errorf("recorded %d, want 1", len(spy.got))
	}
}

func TestRejectCrossTenantReference(t *testing.T) {
	spy := &recorderSpy{}
	e := New(tenancy.ForTenant("A", "d"), spy)
	ctx := context.Background()

	if err := e.RejectCrossTenantReference(ctx, ""); err != nil {
		t.Errorf("empty candidate: %v", err)
	}
	if err := e.RejectCrossTenantReference(ctx, "A"); err != nil {
		t.Errorf("same tenant: %v", err)
	}
	if err := e.RejectCrossTenantReference(ctx, "B"); !errors.Is(err, apperr.ErrCrossTenantViolation) {
		t.Errorf("other tenant err = %v", err)
	}
	if len(spy.got) != 1 || spy.got[0].Severity != vdomain.SeverityCritical {
		t.Errorf("violations = %+v", spy.got)
	}
	if err := New(tenancy.ForSuperAdmin("admin"), spy).RejectCrossTenantReference(ctx, "B"); err != nil {
		t.Errorf("super admin: %v", err)
	}
}

func TestRejectUnsafeQueryOperators(t *testing.T) {
	testCases := []struct {
		name   string
		input  any
		unsafe bool
	}{
		{"plain", map[string]any{"name": "Ana", "price": "$100"}, false},
		{"operator key", map[string]any{"password": map[string]any{"$ne": ""}}, true},
		{"operator value", map[string]any{"status": "$where"}, true},
		{"dotted key", map[string]any{"profile.role": "admin"}, true},
		{"nested slice", map[string]any{"items": []any{"ok", map[string]any{"$gt": 1}}}, true},
		{"query params", map[string][]string{"q": {"fine", "$regex"}}, true},
		{"nul byte", "abc\x00def", true},
		{"clean slice", []string{"a", "b"}, false},
		{"number", 42, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spy := &recorderSpy{}
			e := New(tenancy.ForTenant("A", "d"), spy)
			err := e.RejectUnsafeQueryOperators(context.Background(), tc.input)
			if tc.unsafe {
				if !errors.Is(err, apperr.ErrUnsafeQuery) {
					t.Fatalf("err = %v, want UnsafeQuery", err)
				}
				if len(spy.got) != 1 || spy.got[0].Kind != vdomain.KindQueryViolation || spy.got[0].Severity != vdomain.SeverityHigh {
					t.Errorf("violations = %+v", spy.got)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v, want nil", err)
			}
			if len(spy.got) != 0 {
				t.Errorf("unexpected violations: %+v", spy.got)
			}
		})
	}
}

func TestFindUnsafe_DepthLimit(t *testing.T) {
	var v any = "leaf"
	for i := 0; i < 40; i++ {
		v = map[string]any{"n": v}
	}
	f, bad := FindUnsafe(v)
	if !bad || f.Reason != "nesting too deep" {
		t.Errorf("FindUnsafe = %+v, %v", f, bad)
	}
}

func TestScopedSelect(t *testing.T) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	e := New(tenancy.ForTenant("A", "d"), nil)
	b, err := e.ScopedSelect(psql.Select("id").From("users"), "tenant_id")
	if err != nil {
		t.Fatalf("ScopedSelect: %v", err)
	}
	q, args, _ := b.ToSql()
	if q != "SELECT id FROM users WHERE tenant_id = $1" || len(args) != 1 || args[0] != "A" {
		t.Errorf("sql = %q %v", q, args)
	}

	admin := New(tenancy.ForSuperAdmin("admin"), nil)
	b, _ = admin.ScopedSelect(psql.Select("id").From("users"), "tenant_id")
	q, _, _ = b.ToSql()
	if q != "SELECT id FROM users" {
		t.Errorf("super admin sql = %q", q)
	}

	u, err := e.ScopedUpdate(psql.Update("users").Set("name", "x").Where(sq.Eq{"id": "1"}), "tenant_id")
	if err != nil {
		t.Fatalf("ScopedUpdate: %v", err)
	}
	q, args, _ = u.ToSql()
	if q != "UPDATE users SET name = $1 WHERE id = $2 AND tenant_id = $3" || args[2] != "A" {
		t.Errorf("update sql = %q %v", q, args)
	}

	if _, err := New(tenancy.Neutral("api"), nil).ScopedDelete(psql.Delete("users"), "tenant_id"); !errors.Is(err, apperr.ErrContextMissing) {
		t.Errorf("neutral delete err = %v", err)
	}
}
