package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "ripple.Replication"

// Server is the RPC surface a Ripple-compatible server implements; it
// mirrors transport.Transport one-for-one but at the wire-message level so
// it can be registered as a grpc.ServiceDesc without generated stubs.
type Server interface {
	FetchPage(ctx context.Context, req *FetchPageRequest) (*FetchPageResponse, error)
	FetchIncremental(ctx context.Context, req *FetchIncrementalRequest) (*FetchPageResponse, error)
	Count(ctx context.Context, req *CountRequest) (*CountResponse, error)
	Upsert(ctx context.Context, req *UpsertRequest) (*WireRow, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
	Subscribe(req *SubscribeRequest, stream SubscribeServer) error
}

// SubscribeServer is the server-streaming handle for push events.
type SubscribeServer interface {
	Send(*PushEvent) error
	grpc.ServerStream
}

type subscribeServerStream struct {
	grpc.ServerStream
}

func (s *subscribeServerStream) Send(ev *PushEvent) error {
	return s.ServerStream.SendMsg(ev)
}

func fetchPageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(FetchPageRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FetchPage(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/FetchPage"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).FetchPage(ctx, req.(*FetchPageRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func fetchIncrementalHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(FetchIncrementalRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FetchIncremental(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/FetchIncremental"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).FetchIncremental(ctx, req.(*FetchIncrementalRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func countHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CountRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Count(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Count"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Count(ctx, req.(*CountRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func upsertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(UpsertRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Upsert(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Upsert"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Upsert(ctx, req.(*UpsertRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func deleteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(DeleteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Delete(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Delete"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).Subscribe(req, &subscribeServerStream{ServerStream: stream})
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would generate from a .proto describing this service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchPage", Handler: fetchPageHandler},
		{MethodName: "FetchIncremental", Handler: fetchIncrementalHandler},
		{MethodName: "Count", Handler: countHandler},
		{MethodName: "Upsert", Handler: upsertHandler},
		{MethodName: "Delete", Handler: deleteHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "ripple/replication.proto",
}

// RegisterServer registers srv against s using ServiceDesc.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
