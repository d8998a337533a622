// Package liverpc defines the panels.v1.LiveService gRPC service. Frames
// travel as google.protobuf.Struct values shaped like a live event, so the
// service needs no generated message types.
package liverpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/panels/internal/model"
)

const (
	ServiceName         = "panels.v1.LiveService"
	PublishFullMethod   = "/" + ServiceName + "/Publish"
	HealthFullMethod    = "/" + ServiceName + "/Health"
	serviceMetadataFile = "panels/v1/live.proto"
)

// LiveServiceServer is implemented by the live hub.
type LiveServiceServer interface {
	// Publish injects one frame as if it arrived on a WebSocket.
	Publish(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Health reports {"status": "ok"}.
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterLiveServiceServer registers srv on s.
func RegisterLiveServiceServer(s grpc.ServiceRegistrar, srv LiveServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes panels.v1.LiveService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LiveServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceMetadataFile,
}

func publishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LiveServiceServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LiveServiceServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LiveServiceServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(LiveServiceServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// LiveServiceClient calls panels.v1.LiveService.
type LiveServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLiveServiceClient(cc grpc.ClientConnInterface) *LiveServiceClient {
	return &LiveServiceClient{cc: cc}
}

func (c *LiveServiceClient) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PublishFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LiveServiceClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventToStruct converts a live event to its wire form.
func EventToStruct(ev model.LiveEvent) (*structpb.Struct, error) {
	m := map[string]any{
		"type":   string(ev.Type),
		"sender": ev.Sender,
	}
	if ev.Target != "" {
		m["target"] = ev.Target
	}
	if !ev.Timestamp.IsZero() {
		m["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(ev.Data) > 0 {
		var data any
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return nil, fmt.Errorf("decoding data: %w", err)
		}
		m["data"] = data
	}
	return structpb.NewStruct(m)
}

// StructToEvent converts the wire form back into a live event. It does not
// validate the result.
func StructToEvent(s *structpb.Struct) (model.LiveEvent, error) {
	var ev model.LiveEvent
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return ev, fmt.Errorf("encoding struct: %w", err)
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, fmt.Errorf("decoding live event: %w", err)
	}
	return ev, nil
}
