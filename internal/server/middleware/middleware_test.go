package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
	vdomain "github.com/askeywa/Immigration-V2-sub004/internal/violation/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type spyRecorder struct {
	got []vdomain.Violation
}

func (s *spyRecorder) Record(_ context.Context, v vdomain.Violation) vdomain.Violation {
	s.got = append(s.got, v)
	return v
}

// withTenant attaches tc before the chain under test runs.
func withTenant(tc tenancy.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := tenancy.Attach(c.Request.Context(), tc)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestAbortWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		body       string
		retryAfter string
	}{
		{"coded", apperr.ErrTenantSuspended, http.StatusForbidden, `{"error":"TENANT_SUSPENDED"}`, ""},
		{"unavailable", apperr.ErrResolutionTimeout, http.StatusServiceUnavailable, `{"error":"SERVICE_UNAVAILABLE"}`, "1"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, `{"error":"INTERNAL"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			AbortWithError(c, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
			assert.Equal(t, tt.retryAfter, w.Header().Get("Retry-After"))
			assert.True(t, c.IsAborted())
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestSessionToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "abc"},
		{"bearer lowercase", map[string]string{"Authorization": "bearer abc"}, "abc"},
		{"session header", map[string]string{SessionTokenHeader: " xyz "}, "xyz"},
		{"bearer wins", map[string]string{"Authorization": "Bearer abc", SessionTokenHeader: "xyz"}, "abc"},
		{"basic ignored", map[string]string{"Authorization": "Basic abc"}, ""},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, SessionToken(c))
		})
	}
}

func guardedEngine(rec *spyRecorder, tc tenancy.Context) (*gin.Engine, *string) {
	var seenBody string
	e := gin.New()
	e.Use(withTenant(tc), TenantGuard(rec))
	handler := func(c *gin.Context) {
		raw, _ := c.GetRawData()
		seenBody = string(raw)
		c.Status(http.StatusOK)
	}
	e.POST("/tenants/:tenantId/items", handler)
	e.POST("/items", handler)
	e.GET("/items", handler)
	return e, &seenBody
}

func TestTenantGuard(t *testing.T) {
	acme := tenancy.ForTenant("t-acme", "acme.example.com")
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   vdomain.Kind
	}{
		{"own tenant path", http.MethodPost, "/tenants/t-acme/items", `{}`, http.StatusOK, ""},
		{"other tenant path", http.MethodPost, "/tenants/t-globex/items", `{}`, http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"other tenant query", http.MethodGet, "/items?tenant_id=t-globex", "", http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"operator key in body", http.MethodPost, "/items", `{"name":{"$ne":null}}`, http.StatusBadRequest, vdomain.KindQueryViolation},
		{"operator value in query", http.MethodGet, "/items?q=$gt", "", http.StatusBadRequest, vdomain.KindQueryViolation},
		{"money is fine", http.MethodPost, "/items", `{"price":"$100"}`, http.StatusOK, ""},
		{"other tenant in array", http.MethodPost, "/items", `[{"tenantId":"t-acme"},{"tenantId":"t-globex"}]`, http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"malformed json", http.MethodPost, "/items", `{"name":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &spyRecorder{}
			e, _ := guardedEngine(rec, acme)
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.kind == "" {
				assert.Empty(t, rec.got)
				return
			}
			require.Len(t, rec.got, 1)
			assert.Equal(t, tt.kind, rec.got[0].Kind)
			assert.Equal(t, "t-acme", rec.got[0].TenantID)
		})
	}
}

func TestTenantGuard_InspectsBodyWhateverContentType(t *testing.T) {
	acme := tenancy.ForTenant("t-acme", "acme.example.com")
	tests := []struct {
		name        string
		contentType string
		body        string
		status      int
		kind        vdomain.Kind
	}{
		{"json as text/plain", "text/plain", `{"tenantId":"t-globex"}`, http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"json without content type", "", `{"tenantId":"t-globex"}`, http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"operator as octet-stream", "application/octet-stream", `{"name":{"$gt":""}}`, http.StatusBadRequest, vdomain.KindQueryViolation},
		{"form field", "application/x-www-form-urlencoded", "name=widget&tenant_id=t-globex", http.StatusForbidden, vdomain.KindCrossTenantAccess},
		{"form operator", "application/x-www-form-urlencoded", "name=$ne", http.StatusBadRequest, vdomain.KindQueryViolation},
		{"own tenant form", "application/x-www-form-urlencoded", "tenantId=t-acme", http.StatusOK, ""},
		{"xml refused", "application/xml", `<item><tenantId>t-globex</tenantId></item>`, http.StatusBadRequest, ""},
		{"opaque text passes", "text/plain", "just a note", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &spyRecorder{}
			e, _ := guardedEngine(rec, acme)
			req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.kind == "" {
				assert.Empty(t, rec.got)
				return
			}
			require.Len(t, rec.got, 1)
			assert.Equal(t, tt.kind, rec.got[0].Kind)
		})
	}
}

func TestTenantGuard_RestoresBody(t *testing.T) {
	e, seen := guardedEngine(&spyRecorder{}, tenancy.ForTenant("t-acme", "acme.example.com"))
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"name":"widget"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"widget"}`, *seen)
}

func TestTenantGuard_SuperAdminMayReferenceAnyTenant(t *testing.T) {
	rec := &spyRecorder{}
	e, _ := guardedEngine(rec, tenancy.ForSuperAdmin("localhost"))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items?tenantId=t-globex", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rec.got)
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := gin.New()
	e.Use(AccessLog(zap.New(core)), withTenant(tenancy.ForTenant("t-acme", "acme.example.com")))
	e.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	e.GET("/denied", func(c *gin.Context) { AbortWithError(c, apperr.ErrCrossTenantViolation) })
	e.GET("/broken", func(c *gin.Context) { AbortWithError(c, errors.New("db down")) })

	for _, p := range []string{"/ok", "/denied", "/broken"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "request rejected", entries[0].Message)
	assert.Equal(t, "t-acme", entries[0].ContextMap()["tenant_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
