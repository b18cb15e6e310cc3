package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
)

// MetricsUnary returns a unary server interceptor that records request count
// and latency per method and status code, and logs failed RPCs. m may be nil.
func MetricsUnary(m *metrics.Metrics, log *zap.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		elapsed := time.Since(start)
		m.ObserveRequest("GRPC", info.FullMethod, code.String(), elapsed.Seconds())
		if err != nil {
			log.Info("rpc failed",
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("latency", elapsed),
				zap.String("client_ip", ClientIP(ctx)),
				zap.Error(err),
			)
		}
		return resp, err
	}
}
