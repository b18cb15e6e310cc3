package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/askeywa/Immigration-V2-sub004/internal/apperr"
	"github.com/askeywa/Immigration-V2-sub004/internal/server/interceptors"
	"github.com/askeywa/Immigration-V2-sub004/internal/tenancy"
)

// GetContextMethod is the full method name of ContextService.GetContext.
const GetContextMethod = "/tenantguard.v1.ContextService/GetContext"

// ContextServer reports the tenant context and session the interceptors
// attached to the call. It is the gRPC counterpart of GET /api/v1/context.
type ContextServer interface {
	GetContext(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

type contextService struct{}

func (contextService) GetContext(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	tc, ok := tenancy.FromContext(ctx)
	if !ok {
		return nil, apperr.ErrContextMissing
	}
	fields := map[string]any{
		"tenantId":     tc.TenantID(),
		"isSuperAdmin": tc.IsSuperAdmin(),
		"domain":       tc.Domain(),
		"source":       string(tc.Source()),
	}
	if s, ok := interceptors.SessionFromContext(ctx); ok {
		fields["sessionId"] = s.ID
		fields["userId"] = s.UserID
		fields["role"] = string(s.Role)
		fields["kind"] = string(s.Kind)
	}
	return structpb.NewStruct(fields)
}

func getContextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ContextServer).GetContext(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetContextMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ContextServer).GetContext(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// contextServiceDesc is written by hand; the messages are protobuf well-known types.
var contextServiceDesc = grpc.ServiceDesc{
	ServiceName: "tenantguard.v1.ContextService",
	HandlerType: (*ContextServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetContext", Handler: getContextHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tenantguard/v1/context.proto",
}

// RegisterContextServer registers srv as ContextService on s.
func RegisterContextServer(s grpc.ServiceRegistrar, srv ContextServer) {
	s.RegisterService(&contextServiceDesc, srv)
}
