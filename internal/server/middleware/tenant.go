package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/resolver"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// HostResolver resolves a request host to a tenant context.
type HostResolver interface {
	Resolve(ctx context.Context, host string) (resolver.Result, error)
}

const resultKey = "tenant_resolution"

// ResolveTenant resolves the request's Host and attaches the tenant context to
// the request context. Unknown hosts are 404, suspended tenants 403 and
// directory timeouts 503.
func ResolveTenant(res HostResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := res.Resolve(c.Request.Context(), c.Request.Host)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ctx, err := tenancy.Attach(c.Request.Context(), result.Context)
		if err != nil {
			AbortWithError(c, apperr.ErrCrossTenantViolation)
			return
		}
		c.Set(resultKey, result)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Resolution returns the resolver result stored by ResolveTenant.
func Resolution(c *gin.Context) (resolver.Result, bool) {
	v, ok := c.Get(resultKey)
	if !ok {
		return resolver.Result{}, false
	}
	r, ok := v.(resolver.Result)
	return r, ok
}
