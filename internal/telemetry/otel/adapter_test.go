package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec   otellog.Record
	calls int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.calls++
}

func attrs(rec otellog.Record) map[string]string {
	out := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestNewViolationEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewViolationEmitter(nil)
	if em == nil {
		t.Fatal("NewViolationEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), &vdomain.Violation{Kind: vdomain.KindIPMismatch}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewViolationEmitter_Provider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewViolationEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &vdomain.Violation{ID: "v1", Kind: vdomain.KindQueryViolation}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

func TestEmit_Mapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewViolationEmitterWithLogger(capture)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	v := &vdomain.Violation{
		ID:         "v1",
		OccurredAt: at,
		SessionID:  "s1",
		TenantID:   "t-acme",
		UserID:     "u1",
		Kind:       vdomain.KindCrossTenantAccess,
		Severity:   vdomain.SeverityCritical,
		Metadata:   map[string]string{"requested_tenant": "t-globex"},
	}
	if err := em.Emit(context.Background(), v); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Severity() != otellog.SeverityFatal {
		t.Errorf("severity = %v, want Fatal", rec.Severity())
	}
	if rec.Body().AsString() != "cross_tenant_access" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	got := attrs(rec)
	want := map[string]string{
		"violation_id":          "v1",
		"kind":                  "cross_tenant_access",
		"severity":              "critical",
		"tenant_id":             "t-acme",
		"user_id":               "u1",
		"session_id":            "s1",
		"meta.requested_tenant": "t-globex",
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("attr %s = %q, want %q", k, got[k], w)
		}
	}
}

func TestEmit_OmitsEmptyReferences(t *testing.T) {
	capture := &recordCapture{}
	em := NewViolationEmitterWithLogger(capture)
	if err := em.Emit(context.Background(), &vdomain.Violation{ID: "v2", Kind: vdomain.KindInvalidSession, Severity: vdomain.SeverityLow}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got := attrs(capture.rec)
	for _, k := range []string{"tenant_id", "user_id", "session_id"} {
		if _, ok := got[k]; ok {
			t.Errorf("unexpected attribute %s", k)
		}
	}
	if capture.rec.Timestamp().IsZero() {
		t.Error("zero OccurredAt should fall back to now")
	}
	if capture.rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want Info", capture.rec.Severity())
	}
}
