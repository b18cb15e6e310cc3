package interceptors

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/resolver"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// HostResolver resolves a request host to a tenant context.
type HostResolver interface {
	Resolve(ctx context.Context, host string) (resolver.Result, error)
}

// TenantUnary returns a unary server interceptor that resolves the tenant from
// the :authority header and attaches the tenant context. Resolution failures
// end the RPC with the mapped status (NotFound, PermissionDenied, Unavailable).
// skipMethods is the set of full method names that run without a tenant (e.g. health checks).
func TenantUnary(res HostResolver, skipMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		result, err := res.Resolve(ctx, Authority(ctx))
		if err != nil {
			log.Debug("tenant resolution rejected rpc",
				zap.String("method", info.FullMethod),
				zap.String("outcome", result.Outcome.String()),
				zap.Error(err),
			)
			return nil, apperr.From(err)
		}
		ctx, err = tenancy.Attach(ctx, result.Context)
		if err != nil {
			return nil, apperr.ErrCrossTenantViolation
		}
		return handler(ctx, req)
	}
}
