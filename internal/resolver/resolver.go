// Package resolver maps a request host to the tenant it belongs to.
//
// Resolution order: super-admin allow-list, neutral API domain, exact directory
// lookup, then one subdomain-pattern fallback. Directory calls run under their
// own deadlines; a deadline hit is reported as Timeout and never as NotFound.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenant/repository"
)

// Outcome is the kind of a resolution.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeSuperAdmin
	OutcomeTenant
	OutcomeSuspended
	OutcomeTimeout
	OutcomeNoTenantRequired
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuperAdmin:
		return "super_admin"
	case OutcomeTenant:
		return "tenant"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeNoTenantRequired:
		return "no_tenant_required"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "not_found"
	}
}

// Result is a completed resolution. Context is only meaningful for
// SuperAdmin, Tenant and NoTenantRequired.
type Result struct {
	Outcome      Outcome
	Host         string
	Tenant       *domain.Tenant
	Context      tenancy.Context
	Subscription domain.SubscriptionResult
}

// SubscriptionSource is the optional billing lookup attached to tenant resolutions.
type SubscriptionSource interface {
	GetSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error)
}

// Options configures a Resolver. Zero durations take the defaults.
type Options struct {
	SuperAdminDomains []string
	APIDomain         string
	BaseDomain        string
	// SubdomainPattern uses {prefix}, {tenant} and {base} placeholders.
	SubdomainPattern string
	DirectoryTimeout time.Duration
	FallbackTimeout  time.Duration
	Subscriptions    SubscriptionSource
	Metrics          *metrics.Metrics
	Tracer           trace.Tracer
	Logger           *zap.Logger
	Now              func() time.Time
}

const (
	DefaultDirectoryTimeout = 3500 * time.Millisecond
	DefaultFallbackTimeout  = 1500 * time.Millisecond
	DefaultSubdomainPattern = "{prefix}.{tenant}.{base}"
)

// Resolver is safe for concurrent use.
type Resolver struct {
	dir        repository.Lookup
	superAdmin map[string]struct{}
	apiDomain  string
	baseDomain string
	fallback   *regexp.Regexp
	dirTimeout time.Duration
	fbTimeout  time.Duration
	subs       SubscriptionSource
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	log        *zap.Logger
	now        func() time.Time
	flight     singleflight.Group
}

// New returns a Resolver backed by dir.
func New(dir repository.Lookup, opts Options) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("resolver: directory is required")
	}
	r := &Resolver{
		dir:        dir,
		superAdmin: make(map[string]struct{}, len(opts.SuperAdminDomains)),
		apiDomain:  NormalizeHost(opts.APIDomain),
		baseDomain: NormalizeHost(opts.BaseDomain),
		dirTimeout: opts.DirectoryTimeout,
		fbTimeout:  opts.FallbackTimeout,
		subs:       opts.Subscriptions,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		log:        opts.Logger,
		now:        opts.Now,
	}
	for _, d := range opts.SuperAdminDomains {
		if h := NormalizeHost(d); h != "" {
			r.superAdmin[h] = struct{}{}
		}
	}
	if r.dirTimeout <= 0 {
		r.dirTimeout = DefaultDirectoryTimeout
	}
	if r.fbTimeout <= 0 {
		r.fbTimeout = DefaultFallbackTimeout
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("tenantguard/resolver")
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.baseDomain != "" {
		pattern := opts.SubdomainPattern
		if pattern == "" {
			pattern = DefaultSubdomainPattern
		}
		re, err := compilePattern(pattern, r.baseDomain)
		if err != nil {
			return nil, err
		}
		r.fallback = re
	}
	return r, nil
}

// compilePattern turns "{prefix}.{tenant}.{base}" into an anchored regexp with a
// "tenant" capture group.
func compilePattern(pattern, base string) (*regexp.Regexp, error) {
	if !strings.Contains(pattern, "{tenant}") || !strings.Contains(pattern, "{base}") {
		return nil, fmt.Errorf("resolver: subdomain pattern %q must contain {tenant} and {base}", pattern)
	}
	expr := regexp.QuoteMeta(strings.ToLower(pattern))
	expr = strings.ReplaceAll(expr, `\{prefix\}`, `[a-z0-9-]+(?:\.[a-z0-9-]+)*`)
	expr = strings.ReplaceAll(expr, `\{tenant\}`, `(?P<tenant>[a-z0-9-]+)`)
	expr = strings.ReplaceAll(expr, `\{base\}`, regexp.QuoteMeta(base))
	return regexp.Compile("^" + expr + "$")
}

// NormalizeHost trims the host, strips any port (IPv6 aware) and a trailing
// dot, and lowercases it.
func NormalizeHost(raw string) string {
	h := strings.TrimSpace(raw)
	if h == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	} else if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		h = h[1 : len(h)-1]
	}
	h = strings.TrimSuffix(h, ".")
	return strings.ToLower(h)
}

// Resolve classifies host. Outcomes other than SuperAdmin, Tenant and
// NoTenantRequired come with an *apperr.Error: NotFound, Suspended, and
// SERVICE_UNAVAILABLE for Timeout or any other directory failure.
func (r *Resolver) Resolve(ctx context.Context, rawHost string) (Result, error) {
	start := r.now()
	host := NormalizeHost(rawHost)
	ctx, span := r.tracer.Start(ctx, "resolver.Resolve", trace.WithAttributes(attribute.String("tenant.host", host)))
	defer span.End()

	res, err := r.resolve(ctx, host)
	res.Host = host

	span.SetAttributes(attribute.String("tenant.outcome", res.Outcome.String()))
	if res.Tenant != nil {
		span.SetAttributes(attribute.String("tenant.id", res.Tenant.ID))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.ObserveResolution(res.Outcome.String(), r.now().Sub(start).Seconds())
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, host string) (Result, error) {
	if host == "" {
		return Result{Outcome: OutcomeNotFound}, apperr.ErrResolutionNotFound
	}
	if _, ok := r.superAdmin[host]; ok {
		return Result{Outcome: OutcomeSuperAdmin, Context: tenancy.ForSuperAdmin(host)}, nil
	}
	if r.apiDomain != "" && host == r.apiDomain {
		return Result{Outcome: OutcomeNoTenantRequired, Context: tenancy.Neutral(host)}, nil
	}

	t, err := r.lookup(ctx, host)
	if err != nil {
		return r.failure(host, err)
	}
	if t == nil {
		return Result{Outcome: OutcomeNotFound}, apperr.ErrResolutionNotFound
	}
	if !t.IsUsable(r.now()) {
		r.log.Info("resolved tenant is not usable",
			zap.String("host", host), zap.String("tenant_id", t.ID), zap.String("status", string(t.Status)))
		return Result{Outcome: OutcomeSuspended, Tenant: t}, apperr.ErrTenantSuspended
	}
	return Result{
		Outcome:      OutcomeTenant,
		Tenant:       t,
		Context:      tenancy.ForTenant(t.ID, host),
		Subscription: r.subscription(ctx, t.ID),
	}, nil
}

func (r *Resolver) failure(host string, err error) (Result, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn("tenant directory deadline exceeded", zap.String("host", host), zap.Error(err))
		return Result{Outcome: OutcomeTimeout}, apperr.Wrap(err, apperr.CodeServiceUnavailable, apperr.ErrResolutionTimeout.Message)
	}
	r.log.Error("tenant directory lookup failed", zap.String("host", host), zap.Error(err))
	return Result{Outcome: OutcomeUnavailable}, apperr.Wrap(err, apperr.CodeServiceUnavailable, apperr.ErrUnavailable.Message)
}

// lookup deduplicates concurrent lookups of the same host. The shared call is
// detached from any one caller's cancellation and bounded by its own deadlines;
// a caller whose ctx ends first stops waiting.
func (r *Resolver) lookup(ctx context.Context, host string) (*domain.Tenant, error) {
	detached := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(host, func() (any, error) {
		return r.lookupDirectory(detached, host)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		t, _ := res.Val.(*domain.Tenant)
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Resolver) lookupDirectory(ctx context.Context, host string) (*domain.Tenant, error) {
	exactCtx, cancel := context.WithTimeout(ctx, r.dirTimeout)
	t, err := r.dir.GetByDomain(exactCtx, host)
	if err == nil && t == nil && exactCtx.Err() != nil {
		err = exactCtx.Err()
	}
	cancel()
	if err != nil || t != nil {
		return t, err
	}
	return r.lookupFallback(ctx, host)
}

// lookupFallback makes one bounded attempt against the subdomain pattern: the
// tenant's own domain under the base, then a slug match on the tenant label.
func (r *Resolver) lookupFallback(ctx context.Context, host string) (*domain.Tenant, error) {
	if r.fallback == nil {
		return nil, nil
	}
	m := r.fallback.FindStringSubmatch(host)
	if m == nil {
		return nil, nil
	}
	label := m[r.fallback.SubexpIndex("tenant")]
	if label == "" {
		return nil, nil
	}

	fbCtx, cancel := context.WithTimeout(ctx, r.fbTimeout)
	defer cancel()

	candidate := label + "." + r.baseDomain
	if candidate != host {
		t, err := r.dir.GetByDomain(fbCtx, candidate)
		if err != nil || t != nil {
			return t, err
		}
	}
	t, err := r.dir.GetBySlug(fbCtx, domain.Slug(label))
	if err == nil && t == nil && fbCtx.Err() != nil {
		err = fbCtx.Err()
	}
	return t, err
}

// subscription never fails resolution; a failed lookup is logged and surfaced.
func (r *Resolver) subscription(ctx context.Context, tenantID string) domain.SubscriptionResult {
	if r.subs == nil {
		return domain.NotConfigured()
	}
	subCtx, cancel := context.WithTimeout(ctx, r.fbTimeout)
	defer cancel()
	s, err := r.subs.GetSubscription(subCtx, tenantID)
	if err != nil {
		r.log.Warn("subscription lookup failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return domain.SubscriptionError(err)
	}
	return domain.SubscriptionOf(s)
}
