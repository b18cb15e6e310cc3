package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/server/middleware"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

// SessionService is the part of the session manager the HTTP API uses.
type SessionService interface {
	middleware.SessionValidator
	Create(ctx context.Context, tc tenancy.Context, creds service.Credentials, meta domain.Metadata) (*service.Issued, error)
	Destroy(ctx context.Context, id, reason string) error
}

// ViolationLister lists recorded violations.
type ViolationLister interface {
	List(f violation.Filter) []vdomain.Violation
}

// HTTPDeps holds the dependencies of the HTTP router. Metrics, Logger, Ready and Mount are optional.
type HTTPDeps struct {
	Resolver    middleware.HostResolver
	Sessions    SessionService
	Violations  ViolationLister
	Recorder    violation.Recorder
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	CORSOrigins []string
	// Ready backs /readyz; nil reports ready.
	Ready func(ctx context.Context) error
	// Mount registers tenant-scoped resource handlers under /api/v1/t.
	Mount func(*gin.RouterGroup)
}

// NewRouter builds the gin engine with the full middleware chain.
//
// Route → chain:
//   - /healthz, /readyz, /metrics  → none
//   - /api/v1/auth/login, /logout  → ResolveTenant
//   - /api/v1/context              → ResolveTenant, optional session
//   - /api/v1/session              → ResolveTenant, session
//   - /api/v1/admin/*              → ResolveTenant, session, RequireSuperAdmin
//   - /api/v1/t/*                  → ResolveTenant, session, RequireTenantContext, TenantGuard
func NewRouter(deps HTTPDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestMetrics(deps.Metrics), middleware.AccessLog(log))
	if len(deps.CORSOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = deps.CORSOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.SessionTokenHeader)
		corsConfig.ExposeHeaders = []string{middleware.SessionTokenHeader}
		corsConfig.AllowCredentials = true
		engine.Use(cors.New(corsConfig))
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c.Request.Context()); err != nil {
				log.Warn("not ready", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	h := &handlers{sessions: deps.Sessions, violations: deps.Violations, log: log}
	api := engine.Group("/api/v1", middleware.ResolveTenant(deps.Resolver))
	{
		api.POST("/auth/login", h.login)
		api.POST("/auth/logout", h.logout)
		api.GET("/context", middleware.Authenticate(deps.Sessions, true), h.getContext)
		api.GET("/session", middleware.Authenticate(deps.Sessions, false), h.session)
	}

	admin := api.Group("/admin", middleware.Authenticate(deps.Sessions, false), middleware.RequireSuperAdmin())
	{
		admin.GET("/violations", h.listViolations)
	}

	tenant := api.Group("/t",
		middleware.Authenticate(deps.Sessions, false),
		middleware.RequireTenantContext(),
		middleware.TenantGuard(deps.Recorder),
	)
	if deps.Mount != nil {
		deps.Mount(tenant)
	}
	return engine
}

type handlers struct {
	sessions   SessionService
	violations ViolationLister
	log        *zap.Logger
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Kind     string `json:"kind" binding:"omitempty,oneof=web api mobile"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Session   sessionView `json:"session"`
}

// sessionView is the client-facing shape of a session; it omits the token hash.
type sessionView struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	TenantID     string    `json:"tenantId,omitempty"`
	Role         string    `json:"role"`
	Permissions  []string  `json:"permissions"`
	Kind         string    `json:"kind"`
	MFAVerified  bool      `json:"mfaVerified"`
	LoginAt      time.Time `json:"loginAt"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func viewOf(s *domain.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		UserID:       s.UserID,
		TenantID:     s.TenantID,
		Role:         string(s.Role),
		Permissions:  s.Permissions,
		Kind:         string(s.Kind),
		MFAVerified:  s.MFAVerified,
		LoginAt:      s.LoginAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
	}
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Wrap(err, apperr.CodeInvalidRequest, "invalid login request"))
		return
	}
	tc, _ := tenancy.FromContext(c.Request.Context())
	issued, err := h.sessions.Create(c.Request.Context(), tc,
		service.Credentials{Email: req.Email, Password: req.Password, Kind: domain.Kind(req.Kind)},
		domain.Metadata{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()},
	)
	if err != nil {
		if errors.Is(err, service.ErrUnknownKind) {
			err = apperr.Wrap(err, apperr.CodeInvalidRequest, "invalid login request")
		}
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Token:     issued.Token.Token,
		ExpiresAt: issued.Token.ExpiresAt,
		Session:   viewOf(issued.Session),
	})
}

// logout destroys the current session. Missing, invalid or expired tokens
// still succeed.
func (h *handlers) logout(c *gin.Context) {
	token := middleware.SessionToken(c)
	if token == "" {
		c.Status(http.StatusNoContent)
		return
	}
	tc, _ := tenancy.FromContext(c.Request.Context())
	v, err := h.sessions.Validate(c.Request.Context(), tc, token, domain.Metadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if apperr.From(err).Class() == apperr.ClassReauth {
			c.Status(http.StatusNoContent)
			return
		}
		middleware.AbortWithError(c, err)
		return
	}
	if err := h.sessions.Destroy(c.Request.Context(), v.Session.ID, service.ReasonLogout); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type contextResponse struct {
	TenantID     string `json:"tenantId,omitempty"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	Domain       string `json:"domain"`
	Source       string `json:"source"`
	TenantName   string `json:"tenantName,omitempty"`
	Subscription string `json:"subscription,omitempty"`
	Plan         string `json:"plan,omitempty"`
}

func (h *handlers) getContext(c *gin.Context) {
	tc, _ := tenancy.FromContext(c.Request.Context())
	resp := contextResponse{
		TenantID:     tc.TenantID(),
		IsSuperAdmin: tc.IsSuperAdmin(),
		Domain:       tc.Domain(),
		Source:       string(tc.Source()),
	}
	if res, ok := middleware.Resolution(c); ok {
		if res.Tenant != nil {
			resp.TenantName = res.Tenant.Name
			resp.Subscription = res.Subscription.State.String()
		}
		if res.Subscription.Value != nil {
			resp.Plan = res.Subscription.Value.Plan
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) session(c *gin.Context) {
	s, ok := middleware.SessionData(c.Request.Context())
	if !ok {
		middleware.AbortWithError(c, apperr.ErrSessionInvalid)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (h *handlers) listViolations(c *gin.Context) {
	f := violation.Filter{
		TenantID: c.Query("tenant"),
		Kind:     vdomain.Kind(c.Query("kind")),
		Severity: vdomain.Severity(c.Query("severity")),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		middleware.AbortWithError(c, apperr.Wrap(errors.New("unknown severity"), apperr.CodeInvalidRequest, "invalid filter"))
		return
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			middleware.AbortWithError(c, apperr.Wrap(err, apperr.CodeInvalidRequest, "invalid filter"))
			return
		}
		f.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			middleware.AbortWithError(c, apperr.Wrap(errors.New("bad limit"), apperr.CodeInvalidRequest, "invalid filter"))
			return
		}
		f.Limit = n
	}
	list := h.violations.List(f)
	c.JSON(http.StatusOK, gin.H{"violations": list, "count": len(list)})
}
