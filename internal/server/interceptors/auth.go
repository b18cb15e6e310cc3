package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
	"github.com/askeywa/Immigration-V2-sub004/internal/session/service"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

const bearerPrefix = "bearer "

// SessionTokenHeader carries a refreshed session token back to the client.
const SessionTokenHeader = "x-session-token"

// SessionValidator validates a session token for a tenant context.
type SessionValidator interface {
	Validate(ctx context.Context, tc tenancy.Context, token string, meta domain.Metadata) (*service.Validation, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer session
// token from gRPC metadata against the tenant context set by TenantUnary. On
// success the session is stored in ctx and the tenant context is refined by it.
// publicMethods is the set of full method names that do not require a token
// (e.g. health checks).
func AuthUnary(sessions SessionValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, apperr.ErrSessionInvalid
		}
		tc, ok := tenancy.FromContext(ctx)
		if !ok {
			if public {
				return handler(ctx, req)
			}
			return nil, apperr.ErrContextMissing
		}

		v, err := sessions.Validate(ctx, tc, token, domain.Metadata{
			IPAddress: ClientIP(ctx),
			UserAgent: UserAgent(ctx),
		})
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, apperr.From(err)
		}
		ctx, err = tenancy.Attach(ctx, v.Context)
		if err != nil {
			return nil, apperr.ErrCrossTenantViolation
		}
		if v.Refreshed {
			// Fails outside a real server transport; the token is still valid until expiry.
			_ = grpc.SetHeader(ctx, metadata.Pairs(SessionTokenHeader, v.Token.Token))
		}
		ctx = WithSession(ctx, v.Session)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
