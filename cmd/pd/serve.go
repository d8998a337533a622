package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/panels/internal/auth"
	"github.com/alfredjeanlab/panels/internal/config"
	"github.com/alfredjeanlab/panels/internal/datasource"
	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/presence"
	"github.com/alfredjeanlab/panels/internal/server"
	"github.com/alfredjeanlab/panels/internal/store"
	"github.com/alfredjeanlab/panels/internal/store/mongo"
	"github.com/alfredjeanlab/panels/internal/store/postgres"
	panelsync "github.com/alfredjeanlab/panels/internal/sync"
	"github.com/spf13/cobra"
)

// openStore picks the Mongo or Postgres store from the database URL scheme.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.UsesMongo() {
		s, err := mongo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the Panels HTTP, WebSocket and gRPC server",
	GroupID: "system",
	// The server needs no client of its own.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelStart()

		st, err := openStore(startCtx, cfg)
		if err != nil {
			return err
		}
		logger.Info("store opened", "mongo", cfg.UsesMongo())

		// With NATS, change events and live frames reach peer instances.
		var bus events.Bus = events.NoopBus{}
		if cfg.NATSURL != "" {
			nb, err := events.DialNATS(cfg.NATSURL, "panels-server")
			if err != nil {
				st.Close()
				return err
			}
			bus = nb
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			logger.Info("events disabled (PANELS_NATS_URL not set)")
		}

		// Live history: shared in Redis or per process.
		var history live.History
		var redisHistory *live.RedisHistory
		if cfg.RedisURL != "" {
			redisHistory, err = live.DialRedisHistory(startCtx, cfg.RedisURL, cfg.LiveCapacity)
			if err != nil {
				bus.Close()
				st.Close()
				return err
			}
			history = redisHistory
			logger.Info("live history in redis", "capacity", cfg.LiveCapacity)
		} else {
			history = live.NewMemoryHistory(cfg.LiveCapacity)
		}

		authn := &auth.Authenticator{ServiceToken: cfg.AuthToken}
		if cfg.JWTSecret != "" {
			authn.Issuer = auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
		}
		if !authn.Enabled() {
			logger.Warn("authentication disabled (set PANELS_AUTH_TOKEN or PANELS_JWT_SECRET)")
		}

		panelsServer := server.NewPanelsServer(st, bus, server.Options{
			History:        history,
			Auth:           authn,
			CookieSecure:   cfg.CookieSecure,
			AllowedOrigins: cfg.AllowedOrigins,
		})
		panelsServer.Presence.Start(presence.Config{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if cfg.NATSURL != "" {
			if err := panelsServer.StartRelay(ctx, bus); err != nil {
				logger.Error("failed to start live relay", "err", err)
			}
		}

		grpcServer := server.NewGRPCServer(panelsServer)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			bus.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           panelsServer.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		var poller *datasource.Poller
		if cfg.DatasourceTick > 0 {
			poller = datasource.NewPoller(st, datasource.InjectorFunc(panelsServer.PublishLive), cfg.DatasourceTick, logger)
			poller.Start()
			logger.Info("datasource poller started", "tick", cfg.DatasourceTick)
		}

		scheduler := startSync(cfg, st, logger)

		logger.Info("panels server started",
			"instance", panelsServer.InstanceID(),
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if poller != nil {
			poller.Stop()
			logger.Info("datasource poller stopped")
		}
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}
		cancel()
		panelsServer.Presence.Stop()

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if err := bus.Close(); err != nil {
			logger.Error("error closing event bus", "err", err)
		}
		if redisHistory != nil {
			if err := redisHistory.Close(); err != nil {
				logger.Error("error closing redis", "err", err)
			}
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startSync starts the backup scheduler when an interval and at least one
// destination are configured.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *panelsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []panelsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := panelsync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}

	if cfg.SyncGitRepo != "" {
		dests = append(dests, panelsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := panelsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
