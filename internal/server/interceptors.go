package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/alfredjeanlab/panels/internal/auth"
	"github.com/alfredjeanlab/panels/internal/liverpc"
)

// ObserveInterceptor counts every LiveService call by method and status
// code and logs it. Health probes log at debug.
func ObserveInterceptor(m *Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		m.RPCs.WithLabelValues(info.FullMethod, code.String()).Inc()

		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration", time.Since(start),
			"caller", callerName(ctx),
		}
		switch {
		case err != nil:
			slog.Warn("rpc failed", append(attrs, "error", err)...)
		case info.FullMethod == liverpc.HealthFullMethod:
			slog.Debug("rpc completed", attrs...)
		default:
			slog.Info("rpc completed", attrs...)
		}
		return resp, err
	}
}

// callerName describes who made a call: the authenticated user, the
// service token, or failing both the peer address.
func callerName(ctx context.Context) string {
	if p, ok := auth.FromContext(ctx); ok {
		if p.Service {
			return "service"
		}
		return p.UserID
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in rpc handler",
				"method", info.FullMethod,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// AuthInterceptor requires a bearer token accepted by a in the
// "authorization" metadata and stores the resulting principal in the
// context. Health is exempt; with no mechanism configured every call passes.
func AuthInterceptor(a *auth.Authenticator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.Enabled() || info.FullMethod == liverpc.HealthFullMethod {
			return handler(ctx, req)
		}
		token, err := bearerToken(ctx)
		if err != nil {
			return nil, err
		}
		p, err := a.Authenticate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(auth.WithPrincipal(ctx, p), req)
	}
}

func bearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token, ok := strings.CutPrefix(vals[0], "Bearer ")
	if !ok {
		return "", status.Error(codes.Unauthenticated, "invalid authorization scheme")
	}
	return token, nil
}
