package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/server/interceptors"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// SessionTokenHeader carries the session token when Authorization is not used,
// and carries a refreshed token back to the client.
const SessionTokenHeader = "X-Session-Token"

// SessionValidator validates a session token for a tenant context.
type SessionValidator interface {
	Validate(ctx context.Context, tc tenancy.Context, token string, meta domain.Metadata) (*service.Validation, error)
}

// Authenticate validates the request's session token against the tenant
// context set by ResolveTenant. On success the session is stored in the request
// context and the tenant context is refined by it; a refreshed token is
// returned in X-Session-Token. Without a token the request fails with
// SESSION_INVALID unless optional is set.
func Authenticate(sessions SessionValidator, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c)
		if token == "" {
			if optional {
				c.Next()
				return
			}
			AbortWithError(c, apperr.ErrSessionInvalid)
			return
		}
		tc, ok := tenancy.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, apperr.ErrContextMissing)
			return
		}
		v, err := sessions.Validate(c.Request.Context(), tc, token, domain.Metadata{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ctx, err := tenancy.Attach(c.Request.Context(), v.Context)
		if err != nil {
			AbortWithError(c, apperr.ErrCrossTenantViolation)
			return
		}
		if v.Refreshed {
			c.Header(SessionTokenHeader, v.Token.Token)
		}
		c.Request = c.Request.WithContext(interceptors.WithSession(ctx, v.Session))
		c.Next()
	}
}

// SessionToken returns the Bearer token from Authorization, or X-Session-Token.
func SessionToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(c.GetHeader(SessionTokenHeader))
}

// SessionData returns the validated session of the request, if any.
func SessionData(ctx context.Context) (*domain.Session, bool) {
	return interceptors.SessionFromContext(ctx)
}
