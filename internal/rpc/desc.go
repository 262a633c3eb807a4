// Package rpc serves the tracking service over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON documents as the HTTP
// API, so clients need no generated stubs.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "trajectory.v1.TrackingService"

// TrackingServer is the server API for the tracking service.
type TrackingServer interface {
	Ingest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IngestBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Recommend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Recommendations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EvaluateGeofences(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// IngestStream receives requests until the client closes its side,
	// then replies once with the stream totals.
	IngestStream(grpc.ServerStream) error
}

type unaryCall func(TrackingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TrackingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(TrackingServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ServiceDesc describes TrackingService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Ingest", TrackingServer.Ingest),
		unary("IngestBatch", TrackingServer.IngestBatch),
		unary("Recommend", TrackingServer.Recommend),
		unary("Recommendations", TrackingServer.Recommendations),
		unary("EvaluateGeofences", TrackingServer.EvaluateGeofences),
		unary("Stats", TrackingServer.Stats),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "IngestStream",
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(TrackingServer).IngestStream(stream)
			},
			ClientStreams: true,
		},
	},
	Metadata: "trajectory/v1/tracking.proto",
}
