// Package pb holds the gRPC bindings of dagrecovery.history.v1. See
// history.proto.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	HistoryService_ServiceName            = "dagrecovery.history.v1.HistoryService"
	HistoryService_Recover_FullMethodName = "/dagrecovery.history.v1.HistoryService/Recover"
	HistoryService_Tail_FullMethodName    = "/dagrecovery.history.v1.HistoryService/Tail"
)

// HistoryServiceClient is the client API for HistoryService.
type HistoryServiceClient interface {
	Recover(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Tail(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type historyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewHistoryServiceClient(cc grpc.ClientConnInterface) HistoryServiceClient {
	return &historyServiceClient{cc}
}

func (c *historyServiceClient) Recover(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HistoryService_Recover_FullMethodName, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *historyServiceClient) Tail(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	stream, err := c.cc.NewStream(ctx, &HistoryService_ServiceDesc.Streams[0], HistoryService_Tail_FullMethodName, cOpts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// HistoryServiceServer is the server API for HistoryService.
// Implementations must embed UnimplementedHistoryServiceServer.
type HistoryServiceServer interface {
	Recover(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Tail(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	mustEmbedUnimplementedHistoryServiceServer()
}

type UnimplementedHistoryServiceServer struct{}

func (UnimplementedHistoryServiceServer) Recover(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Recover not implemented")
}

func (UnimplementedHistoryServiceServer) Tail(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Errorf(codes.Unimplemented, "method Tail not implemented")
}

func (UnimplementedHistoryServiceServer) mustEmbedUnimplementedHistoryServiceServer() {}

func RegisterHistoryServiceServer(s grpc.ServiceRegistrar, srv HistoryServiceServer) {
	s.RegisterService(&HistoryService_ServiceDesc, srv)
}

func _HistoryService_Recover_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistoryServiceServer).Recover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: HistoryService_Recover_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistoryServiceServer).Recover(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _HistoryService_Tail_Handler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(HistoryServiceServer).Tail(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// HistoryService_ServiceDesc is the grpc.ServiceDesc for HistoryService.
var HistoryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: HistoryService_ServiceName,
	HandlerType: (*HistoryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Recover",
			Handler:    _HistoryService_Recover_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Tail",
			Handler:       _HistoryService_Tail_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "history.proto",
}
