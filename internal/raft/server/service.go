package server

import (
	"context"

	"google.golang.org/grpc"
)

// The service description below is what protoc-gen-go-grpc would emit for:
//
//	service LogService {
//	  rpc AppendEntry(AppendEntryRequest) returns (AppendEntryResponse);
//	  rpc CommitUpTo(CommitRequest) returns (CommitResponse);
//	  rpc AdvanceTerm(AdvanceTermRequest) returns (AdvanceTermResponse);
//	  rpc TermAt(TermAtRequest) returns (TermAtResponse);
//	  rpc Snapshot(SnapshotRequest) returns (LogInfo);
//	}
//
// Messages are encoded by wire.Codec.

const (
	LogServiceName = "raftlog.LogService"

	AppendEntryMethod = "/raftlog.LogService/AppendEntry"
	CommitUpToMethod  = "/raftlog.LogService/CommitUpTo"
	AdvanceTermMethod = "/raftlog.LogService/AdvanceTerm"
	TermAtMethod      = "/raftlog.LogService/TermAt"
	SnapshotMethod    = "/raftlog.LogService/Snapshot"
)

var LogServiceDesc = grpc.ServiceDesc{
	ServiceName: LogServiceName,
	HandlerType: (*LogServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AppendEntry", Handler: appendEntryHandler},
		{MethodName: "CommitUpTo", Handler: commitUpToHandler},
		{MethodName: "AdvanceTerm", Handler: advanceTermHandler},
		{MethodName: "TermAt", Handler: termAtHandler},
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftlog.proto",
}

// RegisterLogServiceServer registers srv on s
func RegisterLogServiceServer(s grpc.ServiceRegistrar, srv LogServiceServer) {
	s.RegisterService(&LogServiceDesc, srv)
}

// unaryHandler decodes the request, runs the interceptor chain and calls the typed method
func unaryHandler[Req any, Resp any](
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
	fullMethod string,
	srv any,
	call func(LogServiceServer, context.Context, *Req) (*Resp, error),
) (any, error) {
	in := new(Req)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(LogServiceServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(LogServiceServer), ctx, req.(*Req))
	}
	return interceptor(ctx, in, info, handler)
}

func appendEntryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(ctx, dec, interceptor, AppendEntryMethod, srv, LogServiceServer.AppendEntry)
}

func commitUpToHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(ctx, dec, interceptor, CommitUpToMethod, srv, LogServiceServer.CommitUpTo)
}

func advanceTermHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(ctx, dec, interceptor, AdvanceTermMethod, srv, LogServiceServer.AdvanceTerm)
}

func termAtHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(ctx, dec, interceptor, TermAtMethod, srv, LogServiceServer.TermAt)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unaryHandler(ctx, dec, interceptor, SnapshotMethod, srv, LogServiceServer.Snapshot)
}
