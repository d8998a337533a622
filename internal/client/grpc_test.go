package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/panels/internal/liverpc"
	"github.com/alfredjeanlab/panels/internal/model"
)

// fakeLiveService records published frames and the authorization header.
type fakeLiveService struct {
	mu     sync.Mutex
	frames []model.LiveEvent
	auth   []string
	err    error
}

func (f *fakeLiveService) Publish(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		f.auth = append(f.auth, md.Get("authorization")...)
	}
	if f.err != nil {
		return nil, f.err
	}
	ev, err := liverpc.StructToEvent(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	f.frames = append(f.frames, ev)
	return &emptypb.Empty{}, nil
}

func (f *fakeLiveService) Health(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

func startFakeLive(t *testing.T) (*fakeLiveService, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fake := &fakeLiveService{}
	gs := grpc.NewServer()
	liverpc.RegisterLiveServiceServer(gs, fake)
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)
	return fake, lis.Addr().String()
}

func TestGRPCPublisher_Publish(t *testing.T) {
	fake, addr := startFakeLive(t)
	p, err := NewGRPCPublisher(addr, "svc-token")
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer p.Close()

	ev := model.LiveEvent{Type: model.LiveDatasources, Sender: "ds-1", Data: json.RawMessage(`{"cpu":0.5}`)}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(fake.frames))
	}
	got := fake.frames[0]
	if got.Type != model.LiveDatasources || got.Sender != "ds-1" || string(got.Data) != `{"cpu":0.5}` {
		t.Errorf("unexpected frame: %+v", got)
	}
	if len(fake.auth) != 1 || fake.auth[0] != "Bearer svc-token" {
		t.Errorf("authorization = %v, want [Bearer svc-token]", fake.auth)
	}
}

func TestGRPCPublisher_NoToken(t *testing.T) {
	fake, addr := startFakeLive(t)
	p, err := NewGRPCPublisher(addr, "")
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer p.Close()

	if err := p.Publish(context.Background(), model.LiveEvent{Type: model.LiveChats, Sender: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.auth) != 0 {
		t.Errorf("expected no authorization header, got %v", fake.auth)
	}
}

func TestGRPCPublisher_Error(t *testing.T) {
	fake, addr := startFakeLive(t)
	fake.err = status.Error(codes.Unauthenticated, "nope")
	p, err := NewGRPCPublisher(addr, "")
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer p.Close()

	err = p.Publish(context.Background(), model.LiveEvent{Type: model.LiveChats, Sender: "a"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestGRPCPublisher_Health(t *testing.T) {
	_, addr := startFakeLive(t)
	p, err := NewGRPCPublisher(addr, "")
	if err != nil {
		t.Fatalf("NewGRPCPublisher: %v", err)
	}
	defer p.Close()

	got, err := p.Health(context.Background())
	if err != nil || got != "ok" {
		t.Fatalf("Health = (%q, %v), want ok", got, err)
	}
}
