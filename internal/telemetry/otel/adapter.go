package otel

import (
	"context"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

const scopeName = "tenantguard.violations"

// Logger is the subset of otellog.Logger used by the emitter.
type Logger interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewViolationEmitter returns a violation sink that sends each violation as
// an OTel log record via provider. A nil provider yields a no-op sink.
func NewViolationEmitter(provider *sdklog.LoggerProvider) violation.Sink {
	if provider == nil {
		return noopEmitter{}
	}
	return NewViolationEmitterWithLogger(provider.Logger(scopeName))
}

// NewViolationEmitterWithLogger returns a violation sink writing to logger.
func NewViolationEmitterWithLogger(logger Logger) violation.Sink {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *vdomain.Violation) error { return nil }

type otelEmitter struct {
	logger Logger
}

// Emit converts v to a log record. The body is the violation kind; ids and
// metadata become attributes (metadata keys prefixed with "meta.").
func (e *otelEmitter) Emit(ctx context.Context, v *vdomain.Violation) error {
	if v == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := v.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetSeverity(severityOf(v.Severity))
	rec.SetSeverityText(string(v.Severity))
	rec.SetBody(otellog.StringValue(string(v.Kind)))

	rec.AddAttributes(
		otellog.String("violation_id", v.ID),
		otellog.String("kind", string(v.Kind)),
		otellog.String("severity", string(v.Severity)),
	)
	if v.TenantID != "" {
		rec.AddAttributes(otellog.String("tenant_id", v.TenantID))
	}
	if v.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", v.UserID))
	}
	if v.SessionID != "" {
		rec.AddAttributes(otellog.String("session_id", v.SessionID))
	}
	keys := make([]string, 0, len(v.Metadata))
	for k := range v.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec.AddAttributes(otellog.String("meta."+k, v.Metadata[k]))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityOf(s vdomain.Severity) otellog.Severity {
	switch s {
	case vdomain.SeverityLow:
		return otellog.SeverityInfo
	case vdomain.SeverityMedium:
		return otellog.SeverityWarn
	case vdomain.SeverityHigh:
		return otellog.SeverityError
	case vdomain.SeverityCritical:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityUndefined
	}
}
