package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/panels/internal/liverpc"
)

// NewGRPCServer returns a gRPC server carrying the LiveService and
// reflection. Calls are authenticated before they are counted so the log
// line can name the caller.
func NewGRPCServer(panelsServer *PanelsServer) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			AuthInterceptor(panelsServer.auth),
			ObserveInterceptor(panelsServer.metrics),
		),
	)

	liverpc.RegisterLiveServiceServer(srv, &liveService{srv: panelsServer})
	reflection.Register(srv)

	return srv
}

// liveService adapts PanelsServer to liverpc.LiveServiceServer.
type liveService struct {
	srv *PanelsServer
}

// Publish validates a frame from a producer and handles it like a frame
// from a local socket.
func (l *liveService) Publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	ev, err := liverpc.StructToEvent(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if err := l.srv.PublishLive(ctx, ev); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Health returns the service health status.
func (l *liveService) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}
