package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/resolver"
	"github.com/askeywa/Immigration-V2-sub004/internal/rls"
	"github.com/askeywa/Immigration-V2-sub004/internal/security"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/repository"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	tdomain "github.com/askeywa/Immigration-V2-sub004/internal/tenant/domain"
	userdomain "github.com/askeywa/Immigration-V2-sub004/internal/user/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/violation"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type directory struct {
	byDomain map[string]*tdomain.Tenant
	delay    time.Duration
}

func (d *directory) GetByDomain(ctx context.Context, host string) (*tdomain.Tenant, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.byDomain[host], nil
}

func (d *directory) GetBySlug(ctx context.Context, slug string) (*tdomain.Tenant, error) {
	return nil, nil
}

// verifier accepts password "pw" for users visible to the enforcer's context.
type verifier struct {
	users []*userdomain.User
}

func (v verifier) Verify(_ context.Context, enf *rls.Enforcer, email, password string) (*userdomain.User, error) {
	tc := enf.Context()
	for _, u := range v.users {
		if u.Email != email || password != "pw" {
			continue
		}
		if tc.IsSuperAdmin() && u.IsSuperAdmin() {
			return u, nil
		}
		if tc.HasTenant() && u.TenantID == tc.TenantID() {
			return u, nil
		}
	}
	return nil, apperr.ErrInvalidCredentials
}

type fixture struct {
	router     *gin.Engine
	violations *violation.Log
	manager    *service.Manager
}

func newFixture(t *testing.T, dirDelay time.Duration) *fixture {
	t.Helper()
	dir := &directory{
		byDomain: map[string]*tdomain.Tenant{
			"acme.example.com":   {ID: "t-acme", Name: "Acme", Domain: "acme.example.com", Status: tdomain.TenantStatusActive},
			"globex.example.com": {ID: "t-globex", Name: "Globex", Domain: "globex.example.com", Status: tdomain.TenantStatusActive},
			"stale.example.com":  {ID: "t-stale", Name: "Stale", Domain: "stale.example.com", Status: tdomain.TenantStatusSuspended},
		},
		delay: dirDelay,
	}
	res, err := resolver.New(dir, resolver.Options{
		SuperAdminDomains: []string{"localhost"},
		APIDomain:         "api.example.com",
		DirectoryTimeout:  50 * time.Millisecond,
	})
	require.NoError(t, err)

	log := violation.NewLog(violation.Options{})
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	mgr := service.NewManager(repository.NewMemoryRepository(repository.ExpiredRetention), verifier{users: []*userdomain.User{
		{ID: "u-ana", TenantID: "t-acme", Email: "ana@acme.com", Role: userdomain.RoleUser, Status: userdomain.UserStatusActive},
		{ID: "u-root", Email: "root@platform.io", Role: userdomain.RoleSuperAdmin, Status: userdomain.UserStatusActive},
	}}, tokens, service.Options{Recorder: log})

	router := NewRouter(HTTPDeps{
		Resolver:   res,
		Sessions:   mgr,
		Violations: log,
		Recorder:   log,
		Mount: func(g *gin.RouterGroup) {
			g.POST("/records", func(c *gin.Context) {
				tc, _ := tenancy.FromContext(c.Request.Context())
				c.JSON(http.StatusCreated, gin.H{"tenantId": tc.TenantID()})
			})
			g.GET("/records", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"records": []string{}})
			})
		},
	})
	return &fixture{router: router, violations: log, manager: mgr}
}

type request struct {
	method, host, path, token string
	body                      any
	contentType               string // defaults to application/json when body is set
}

func (f *fixture) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	req.Host = r.host
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("User-Agent", "test-agent")
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) apperr.Code {
	t.Helper()
	var resp struct {
		Error apperr.Code `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error
}

func (f *fixture) login(t *testing.T, host, email string) string {
	t.Helper()
	w := f.do(t, request{method: http.MethodPost, host: host, path: "/api/v1/auth/login",
		body: map[string]string{"email": email, "password": "pw"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestRouter_ResolutionFailures(t *testing.T) {
	f := newFixture(t, 0)
	tests := []struct {
		name   string
		host   string
		status int
		code   apperr.Code
	}{
		{"unknown host", "ghost.example.com", http.StatusNotFound, apperr.CodeTenantNotFound},
		{"suspended tenant", "stale.example.com", http.StatusForbidden, apperr.CodeTenantSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, request{method: http.MethodGet, host: tt.host, path: "/api/v1/context"})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestRouter_DirectoryTimeout(t *testing.T) {
	f := newFixture(t, time.Second)
	w := f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/context"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apperr.CodeServiceUnavailable, errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRouter_Context(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/context"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp contextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-acme", resp.TenantID)
	assert.Equal(t, "Acme", resp.TenantName)
	assert.False(t, resp.IsSuperAdmin)

	w = f.do(t, request{method: http.MethodGet, host: "localhost:8081", path: "/api/v1/context"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsSuperAdmin)
	assert.Empty(t, resp.TenantID)
}

func TestRouter_LoginSessionLogout(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/session", token: token})
	require.Equal(t, http.StatusOK, w.Code)
	var s sessionView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, "u-ana", s.UserID)
	assert.Equal(t, "t-acme", s.TenantID)
	assert.Equal(t, "web", s.Kind)

	w = f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/auth/logout", token: token})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/session", token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperr.CodeSessionInvalid, errorCode(t, w))

	// Logging out twice is not an error.
	w = f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/auth/logout", token: token})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_LoginRejects(t *testing.T) {
	f := newFixture(t, 0)
	tests := []struct {
		name   string
		host   string
		body   any
		status int
		code   apperr.Code
	}{
		{"wrong password", "acme.example.com", map[string]string{"email": "ana@acme.com", "password": "nope"}, http.StatusUnauthorized, apperr.CodeInvalidCredentials},
		{"other tenant's user", "globex.example.com", map[string]string{"email": "ana@acme.com", "password": "pw"}, http.StatusUnauthorized, apperr.CodeInvalidCredentials},
		{"bad email", "acme.example.com", map[string]string{"email": "nope", "password": "pw"}, http.StatusBadRequest, apperr.CodeInvalidRequest},
		{"bad kind", "acme.example.com", map[string]string{"email": "ana@acme.com", "password": "pw", "kind": "desktop"}, http.StatusBadRequest, apperr.CodeInvalidRequest},
		{"neutral domain", "api.example.com", map[string]string{"email": "ana@acme.com", "password": "pw"}, http.StatusBadRequest, apperr.CodeInvalidTenantContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, request{method: http.MethodPost, host: tt.host, path: "/api/v1/auth/login", body: tt.body})
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestRouter_SessionUsedOnOtherTenant(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodGet, host: "globex.example.com", path: "/api/v1/session", token: token})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperr.CodeCrossTenantDenied, errorCode(t, w))
	got := f.violations.List(violation.Filter{Kind: vdomain.KindCrossTenantAccess})
	require.Len(t, got, 1)
	assert.Equal(t, vdomain.SeverityCritical, got[0].Severity)
}

func TestRouter_NeutralDomainRefinedBySession(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodGet, host: "api.example.com", path: "/api/v1/context", token: token})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp contextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t-acme", resp.TenantID)
	assert.Equal(t, string(tenancy.SourceSession), resp.Source)
}

// Scenario: a tenant A user posts a record naming tenant B.
func TestRouter_TenantGuard_CrossTenantBody(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/t/records", token: token,
		body: map[string]any{"tenantId": "t-globex", "name": "x"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperr.CodeCrossTenantDenied, errorCode(t, w))

	got := f.violations.List(violation.Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, vdomain.KindCrossTenantAccess, got[0].Kind)
	assert.Equal(t, vdomain.SeverityCritical, got[0].Severity)
	assert.Equal(t, "t-acme", got[0].TenantID)
	assert.Equal(t, "u-ana", got[0].UserID)

	w = f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/t/records", token: token,
		body: map[string]any{"tenantId": "t-acme", "name": "x"}})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, f.violations.Len())
}

func TestRouter_TenantGuard_BodyWithOtherContentType(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/t/records", token: token,
		body: map[string]any{"tenantId": "t-globex", "name": "x"}, contentType: "text/plain"})
	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, apperr.CodeCrossTenantDenied, errorCode(t, w))
	require.Equal(t, 1, f.violations.Len())
}

func TestRouter_TenantGuard_QueryChecks(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "acme.example.com", "ana@acme.com")

	w := f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/t/records?tenantId=t-globex", token: token})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/t/records?filter=$where", token: token})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeUnsafeQuery, errorCode(t, w))

	w = f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/t/records?tenantId=t-acme", token: token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_TenantRoutesNeedTenant(t *testing.T) {
	f := newFixture(t, 0)
	token := f.login(t, "localhost", "root@platform.io")

	w := f.do(t, request{method: http.MethodGet, host: "localhost", path: "/api/v1/t/records", token: token})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.CodeInvalidTenantContext, errorCode(t, w))

	w = f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/t/records"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_AdminViolations(t *testing.T) {
	f := newFixture(t, 0)
	tenantToken := f.login(t, "acme.example.com", "ana@acme.com")
	adminToken := f.login(t, "localhost", "root@platform.io")

	// Produces one critical violation for t-acme.
	f.do(t, request{method: http.MethodPost, host: "acme.example.com", path: "/api/v1/t/records", token: tenantToken,
		body: map[string]any{"tenantId": "t-globex"}})

	w := f.do(t, request{method: http.MethodGet, host: "acme.example.com", path: "/api/v1/admin/violations", token: tenantToken})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, apperr.CodeSuperAdminRequired, errorCode(t, w))

	w = f.do(t, request{method: http.MethodGet, host: "localhost", path: "/api/v1/admin/violations?tenant=t-acme&severity=high", token: adminToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Violations []vdomain.Violation `json:"violations"`
		Count      int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	w = f.do(t, request{method: http.MethodGet, host: "localhost", path: "/api/v1/admin/violations?severity=extreme", token: adminToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, request{method: http.MethodGet, host: "localhost", path: "/api/v1/admin/violations?since=yesterday", token: adminToken})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_Healthz(t *testing.T) {
	f := newFixture(t, 0)
	w := f.do(t, request{method: http.MethodGet, host: "anything", path: "/healthz"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_Readyz(t *testing.T) {
	ready := errors.New("postgres: down")
	router := NewRouter(HTTPDeps{Ready: func(context.Context) error { return ready }})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = nil
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
