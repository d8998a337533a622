package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/alfredjeanlab/panels/internal/liverpc"
	"github.com/alfredjeanlab/panels/internal/model"
)

// GRPCPublisher pushes live frames to a server's LiveService. Datasource
// producers use it instead of holding a WebSocket open.
type GRPCPublisher struct {
	conn   *grpc.ClientConn
	client *liverpc.LiveServiceClient
	token  string
}

// NewGRPCPublisher connects to the given gRPC address. When token is
// non-empty it is sent as a bearer token on every call.
func NewGRPCPublisher(addr, token string) (*GRPCPublisher, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCPublisher{
		conn:   conn,
		client: liverpc.NewLiveServiceClient(conn),
		token:  token,
	}, nil
}

func (p *GRPCPublisher) Close() error {
	return p.conn.Close()
}

func (p *GRPCPublisher) outgoing(ctx context.Context) context.Context {
	if p.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+p.token)
}

// Publish sends one live frame.
func (p *GRPCPublisher) Publish(ctx context.Context, ev model.LiveEvent) error {
	in, err := liverpc.EventToStruct(ev)
	if err != nil {
		return err
	}
	if _, err := p.client.Publish(p.outgoing(ctx), in); err != nil {
		return fmt.Errorf("publishing %s frame: %w", ev.Type, err)
	}
	return nil
}

// Health returns the server's reported status.
func (p *GRPCPublisher) Health(ctx context.Context) (string, error) {
	resp, err := p.client.Health(p.outgoing(ctx), &emptypb.Empty{})
	if err != nil {
		return "", err
	}
	return resp.GetFields()["status"].GetStringValue(), nil
}
