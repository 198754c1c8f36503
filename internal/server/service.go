package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agentgate.v1.AgentGate"

const (
	authorizeMethod           = "/" + ServiceName + "/Authorize"
	runMethod                 = "/" + ServiceName + "/Run"
	resolveConfirmationMethod = "/" + ServiceName + "/ResolveConfirmation"
)

// AgentGateServer is the server API for the AgentGate service. Requests and
// responses are google.protobuf.Struct documents.
type AgentGateServer interface {
	Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ResolveConfirmation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAgentGateServer registers srv on s.
func RegisterAgentGateServer(s grpc.ServiceRegistrar, srv AgentGateServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(method string, call func(AgentGateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AgentGateServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AgentGateServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for the AgentGate service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Authorize",
			Handler:    unaryHandler(authorizeMethod, AgentGateServer.Authorize),
		},
		{
			MethodName: "Run",
			Handler:    unaryHandler(runMethod, AgentGateServer.Run),
		},
		{
			MethodName: "ResolveConfirmation",
			Handler:    unaryHandler(resolveConfirmationMethod, AgentGateServer.ResolveConfirmation),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agentgate/v1/agentgate.proto",
}

// Client calls the AgentGate service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Authorize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, authorizeMethod, in, opts)
}

func (c *Client) Run(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, runMethod, in, opts)
}

func (c *Client) ResolveConfirmation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, resolveConfirmationMethod, in, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
