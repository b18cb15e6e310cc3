package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/askeywa/Immigration-V2-sub004/internal/server/interceptors"
	"github.com/askeywa/Immigration-V2-sub004/internal/telemetry/metrics"
)

// healthMethods bypass tenant resolution and session checks; probes hit the
// server by IP with no tenant host.
var healthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/List":  true,
}

// GRPCDeps holds the dependencies of the gRPC server. Metrics, Logger and Register are optional.
type GRPCDeps struct {
	Resolver interceptors.HostResolver
	Sessions interceptors.SessionValidator
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// PublicMethods are full method names that resolve a tenant but need no session.
	PublicMethods []string
	// Register adds tenant-scoped services to the server.
	Register func(grpc.ServiceRegistrar)
}

// NewGRPCServer builds the gRPC server with the interceptor chain
// MetricsUnary → TenantUnary → AuthUnary and registers the standard health
// service and ContextService. The returned health server starts NOT_SERVING until readiness is
// reported.
func NewGRPCServer(deps GRPCDeps) (*grpc.Server, *health.Server) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	public := make(map[string]bool, len(healthMethods)+len(deps.PublicMethods))
	for m := range healthMethods {
		public[m] = true
	}
	for _, m := range deps.PublicMethods {
		public[m] = true
	}

	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.MetricsUnary(deps.Metrics, log),
			interceptors.TenantUnary(deps.Resolver, healthMethods, log),
			interceptors.AuthUnary(deps.Sessions, public),
		),
	)
	hs := RegisterServices(s, deps)
	return s, hs
}

// RegisterServices registers the health service, ContextService and any
// further tenant-scoped services.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	RegisterContextServer(s, contextService{})
	if deps.Register != nil {
		deps.Register(s)
	}
	return hs
}
