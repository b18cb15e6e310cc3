// Package service implements the session lifecycle: login, per-request
// validation with anomaly checks, refresh and destruction.
package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/policy/engine"
	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/security"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/repository"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	userdomain "github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// ErrUnknownKind is returned by Create for a session kind other than web, api or mobile.
var ErrUnknownKind = errors.New("session: unknown kind")

// Destroy reasons recorded in logs and metrics.
const (
	ReasonLogout          = "logout"
	ReasonExpired         = "expired"
	ReasonViolation       = "violation"
	ReasonConcurrentLimit = "concurrent_limit"
)

// Verifier checks login credentials within an enforcer's scope.
type Verifier interface {
	Verify(ctx context.Context, enf *rls.Enforcer, email, password string) (*userdomain.User, error)
}

// Credentials are what a client presents to log in.
type Credentials struct {
	Email    string
	Password string
	Kind     domain.Kind
}

// Issued is a new or refreshed session together with its signed token.
type Issued struct {
	Session *domain.Session
	Token   security.SessionToken
}

// Validation is the outcome of a successful Validate.
type Validation struct {
	Session *domain.Session
	// Context is the request's tenant context refined by the session.
	Context tenancy.Context
	// Refreshed is set when a new token was issued; Token then holds it.
	Refreshed bool
	Token     security.SessionToken
}

// Options configures a Manager. Zero values use the defaults noted per field.
type Options struct {
	StoreTimeout  time.Duration // default 2s
	MaxConcurrent int           // 0 disables the limit
	Policy        engine.Evaluator
	Recorder      violation.Recorder
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// Manager owns session state. It is safe for concurrent use.
type Manager struct {
	repo          repository.Repository
	verifier      Verifier
	tokens        *security.TokenProvider
	storeTimeout  time.Duration
	maxConcurrent int
	policy        engine.Evaluator
	recorder      violation.Recorder
	metrics       *metrics.Metrics
	log           *zap.Logger
	now           func() time.Time
}

// NewManager returns a Manager backed by repo.
func NewManager(repo repository.Repository, verifier Verifier, tokens *security.TokenProvider, opts Options) *Manager {
	m := &Manager{
		repo:          repo,
		verifier:      verifier,
		tokens:        tokens,
		storeTimeout:  opts.StoreTimeout,
		maxConcurrent: opts.MaxConcurrent,
		policy:        opts.Policy,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		now:           opts.Now,
	}
	if m.storeTimeout <= 0 {
		m.storeTimeout = 2 * time.Second
	}
	if m.policy == nil {
		m.policy = engine.StaticEvaluator{Defaults: engine.DefaultSeverities()}
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Create verifies creds against the users visible in tc and starts a session.
// Tenant contexts only admit that tenant's users; super-admin contexts only
// admit super admins. A neutral context cannot log in.
func (m *Manager) Create(ctx context.Context, tc tenancy.Context, creds Credentials, meta domain.Metadata) (*Issued, error) {
	if tc.IsNeutral() {
		return nil, apperr.ErrContextMissing
	}
	kind := creds.Kind
	if kind == "" {
		kind = domain.KindWeb
	}
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	u, err := m.verify(ctx, rls.New(tc, m.recorder), creds)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &domain.Session{
		ID:           uuid.New().String(),
		UserID:       u.ID,
		TenantID:     u.TenantID,
		Role:         domain.Role(u.Role),
		Permissions:  u.EffectivePermissions(),
		Kind:         kind,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		MFAVerified:  u.MFAVerified,
		LoginAt:      now,
		IssuedAt:     now,
		LastActivity: now,
	}
	s.ExpiresAt = now.Add(s.MaxAge())
	tok, err := m.issue(s)
	if err != nil {
		return nil, err
	}
	if err := m.withStore(ctx, func(ctx context.Context) error { return m.repo.Create(ctx, s) }); err != nil {
		return nil, err
	}
	m.enforceLimit(ctx, s)
	m.metrics.ObserveSession("created")
	m.log.Info("session created",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("tenant_id", s.TenantID),
		zap.String("kind", string(s.Kind)),
	)
	return &Issued{Session: s.Clone(), Token: tok}, nil
}

// verify checks creds under the store deadline. Credential and scope errors
// pass through; a failed or slow user lookup is a retryable ServiceUnavailable.
func (m *Manager) verify(ctx context.Context, enf *rls.Enforcer, creds Credentials) (*userdomain.User, error) {
	vctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	u, err := m.verifier.Verify(vctx, enf, creds.Email, creds.Password)
	if err == nil {
		return u, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return nil, err
	}
	return nil, apperr.Wrap(err, apperr.CodeServiceUnavailable, "user directory unavailable")
}

// enforceLimit destroys the user's oldest sessions beyond the limit. Failures
// are logged; the new session stays valid.
func (m *Manager) enforceLimit(ctx context.Context, current *domain.Session) {
	if m.maxConcurrent <= 0 {
		return
	}
	var sessions []*domain.Session
	err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		sessions, err = m.repo.ListByUser(ctx, current.UserID)
		return err
	})
	if err != nil {
		m.log.Warn("session limit check failed", zap.String("user_id", current.UserID), zap.Error(err))
		return
	}
	excess := len(sessions) - m.maxConcurrent
	for _, old := range sessions {
		if excess <= 0 {
			break
		}
		if old.ID == current.ID {
			continue
		}
		if err := m.Destroy(ctx, old.ID, ReasonConcurrentLimit); err != nil {
			m.log.Warn("evict session failed", zap.String("session_id", old.ID), zap.Error(err))
			continue
		}
		excess--
		m.record(ctx, old, vdomain.KindConcurrentLimit, vdomain.SeverityLow, map[string]string{
			"replaced_by": current.ID,
			"limit":       strconv.Itoa(m.maxConcurrent),
		})
	}
}

// Validate checks token against the stored session and the request. On
// success the session's last activity is updated and, once the last quarter
// of its lifetime begins, a new token is issued. A session never outlives
// LoginAt plus its maximum age, however often it is refreshed.
func (m *Manager) Validate(ctx context.Context, tc tenancy.Context, token string, meta domain.Metadata) (*Validation, error) {
	claims, err := m.tokens.ParseSession(token)
	if err != nil {
		m.record(ctx, &domain.Session{TenantID: tc.TenantID()}, vdomain.KindInvalidSession, vdomain.SeverityLow,
			map[string]string{"reason": "unparseable token", "domain": tc.Domain()})
		return nil, apperr.ErrSessionInvalid
	}
	s, err := m.load(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	current, ok := acceptsToken(s, token, now)
	if !ok {
		reason := "unknown session"
		if s != nil {
			reason = "superseded token"
		}
		m.record(ctx, &domain.Session{ID: claims.SessionID, UserID: claims.Subject, TenantID: claims.TenantID},
			vdomain.KindInvalidSession, vdomain.SeverityLow, map[string]string{"reason": reason, "domain": tc.Domain()})
		return nil, apperr.ErrSessionInvalid
	}

	if s.Expired(now) {
		m.record(ctx, s, vdomain.KindExpiredSession, vdomain.SeverityMedium, map[string]string{
			"age":     s.Age(now).Truncate(time.Second).String(),
			"max_age": s.MaxAge().String(),
		})
		if err := m.Destroy(ctx, s.ID, ReasonExpired); err != nil {
			m.log.Warn("destroy expired session failed", zap.String("session_id", s.ID), zap.Error(err))
		}
		return nil, apperr.ErrSessionExpired
	}

	refined, err := m.Refine(tc, s)
	if err != nil {
		m.record(ctx, s, vdomain.KindCrossTenantAccess, vdomain.SeverityCritical, map[string]string{
			"context_tenant": tc.TenantID(),
			"domain":         tc.Domain(),
			"source":         "session",
		})
		return nil, err
	}

	if err := m.checkClient(ctx, s, meta); err != nil {
		return nil, err
	}

	out := &Validation{Context: refined}
	next := s.Clone()
	next.LastActivity = now
	// Only the current token can trigger a refresh; a request still carrying
	// the replaced one rides on the refresh that already happened.
	if current && next.NeedsRefresh(now) {
		next.Refresh(now)
		tok, err := m.issue(next)
		if err != nil {
			return nil, err
		}
		out.Refreshed = true
		out.Token = tok
	}
	err = m.withStore(ctx, func(ctx context.Context) error { return m.repo.Update(ctx, next, s.TokenHash) })
	if errors.Is(err, repository.ErrStale) {
		return m.revalidate(ctx, out, s.ID, token, now)
	}
	if err != nil {
		return nil, err
	}
	if out.Refreshed {
		m.metrics.ObserveSession("refreshed")
		m.log.Info("session refreshed", zap.String("session_id", next.ID), zap.Time("expires_at", next.ExpiresAt))
	}
	out.Session = next
	return out, nil
}

// revalidate handles an Update that lost a race. A session destroyed in the
// meantime stays destroyed; a session changed by a concurrent request is
// accepted as that request left it, without a refresh of its own.
func (m *Manager) revalidate(ctx context.Context, out *Validation, id, token string, now time.Time) (*Validation, error) {
	s, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := acceptsToken(s, token, now); !ok {
		return nil, apperr.ErrSessionInvalid
	}
	out.Refreshed = false
	out.Token = security.SessionToken{}
	out.Session = s
	return out, nil
}

// acceptsToken reports whether token belongs to s: either its current token,
// or the one replaced by the last refresh while the overlap lasts.
func acceptsToken(s *domain.Session, token string, now time.Time) (current, ok bool) {
	if s == nil {
		return false, false
	}
	if security.TokenHashEqual(token, s.TokenHash) {
		return true, true
	}
	if s.PrevTokenHash != "" && now.Before(s.PrevTokenUntil) && security.TokenHashEqual(token, s.PrevTokenHash) {
		return false, true
	}
	return false, false
}

// checkClient compares the request's IP and user agent with the stored ones.
// Each mismatch is recorded with the policy's severity; a fatal decision
// destroys the session.
func (m *Manager) checkClient(ctx context.Context, s *domain.Session, meta domain.Metadata) error {
	type mismatch struct {
		kind             vdomain.Kind
		stored, observed string
	}
	var found []mismatch
	if s.IPAddress != "" && meta.IPAddress != "" && s.IPAddress != meta.IPAddress {
		found = append(found, mismatch{vdomain.KindIPMismatch, s.IPAddress, meta.IPAddress})
	}
	if s.UserAgent != "" && meta.UserAgent != "" && s.UserAgent != meta.UserAgent {
		found = append(found, mismatch{vdomain.KindUserAgentMismatch, s.UserAgent, meta.UserAgent})
	}
	fatal := false
	for _, mm := range found {
		d, _ := m.policy.EvaluateAnomaly(ctx, engine.Anomaly{
			Kind:        mm.kind,
			Role:        string(s.Role),
			SessionKind: string(s.Kind),
			TenantID:    s.TenantID,
			Stored:      mm.stored,
			Observed:    mm.observed,
		})
		m.record(ctx, s, mm.kind, d.Severity, map[string]string{
			"stored":   mm.stored,
			"observed": mm.observed,
		})
		fatal = fatal || d.Fatal
	}
	if !fatal {
		return nil
	}
	if err := m.Destroy(ctx, s.ID, ReasonViolation); err != nil {
		m.log.Warn("destroy violated session failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	return apperr.ErrSessionViolationCritical
}

// Refine returns tc refined by the session. A tenant session on another
// tenant's domain, or a tenant session on a super-admin domain, is a
// cross-tenant violation.
func (m *Manager) Refine(tc tenancy.Context, s *domain.Session) (tenancy.Context, error) {
	if tc.IsSuperAdmin() && !s.IsSuperAdmin() {
		return tc, apperr.ErrCrossTenantViolation
	}
	return tc.Refine(s.TenantID, s.IsSuperAdmin())
}

// Destroy removes the session. Destroying a missing session is not an error.
func (m *Manager) Destroy(ctx context.Context, id, reason string) error {
	if id == "" {
		return nil
	}
	if err := m.withStore(ctx, func(ctx context.Context) error { return m.repo.Revoke(ctx, id) }); err != nil {
		return err
	}
	m.metrics.ObserveSession("destroyed_" + reason)
	m.log.Info("session destroyed", zap.String("session_id", id), zap.String("reason", reason))
	return nil
}

// Get returns the live session for id, or nil.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.load(ctx, id)
}

func (m *Manager) load(ctx context.Context, id string) (*domain.Session, error) {
	var s *domain.Session
	err := m.withStore(ctx, func(ctx context.Context) error {
		var err error
		s, err = m.repo.GetByID(ctx, id)
		return err
	})
	return s, err
}

func (m *Manager) issue(s *domain.Session) (security.SessionToken, error) {
	tok, err := m.tokens.IssueSession(s.ID, s.UserID, s.TenantID, string(s.Role), string(s.Kind), s.ExpiresAt)
	if err != nil {
		return security.SessionToken{}, apperr.Wrap(err, apperr.CodeInternal, "issue session token")
	}
	s.TokenHash = security.HashToken(tok.Token)
	return tok, nil
}

// withStore runs op under the store deadline. Store failures, including the
// deadline, surface as a retryable ServiceUnavailable and never as a missing
// session. Cancellation by the caller is returned as is.
func (m *Manager) withStore(ctx context.Context, op func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	err := op(sctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || sctx.Err() != nil {
		return apperr.Wrap(err, apperr.CodeServiceUnavailable, "session store timed out")
	}
	return apperr.Wrap(err, apperr.CodeServiceUnavailable, "session store unavailable")
}

func (m *Manager) record(ctx context.Context, s *domain.Session, kind vdomain.Kind, sev vdomain.Severity, meta map[string]string) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, vdomain.Violation{
		SessionID: s.ID,
		TenantID:  s.TenantID,
		UserID:    s.UserID,
		Kind:      kind,
		Severity:  sev,
		Metadata:  meta,
	})
}
