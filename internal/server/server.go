package server

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/panels/internal/auth"
	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/presence"
	"github.com/alfredjeanlab/panels/internal/store"
)

// Options configures optional server collaborators. Zero values select an
// in-memory live history, no authentication and any WebSocket origin.
type Options struct {
	History        live.History
	Auth           *auth.Authenticator
	CookieSecure   bool
	AllowedOrigins []string
	InstanceID     string // tags relayed live frames; generated when empty
}

// PanelsServer serves the REST API, the live WebSocket hub and the gRPC
// LiveService over one store and event publisher.
type PanelsServer struct {
	store     store.Store
	publisher events.Publisher
	history   live.History
	auth      *auth.Authenticator
	changes   *changeHub
	live      *liveHub
	metrics   *Metrics
	Presence  *presence.Tracker

	cookieSecure bool
	instanceID   string
}

// NewPanelsServer returns a new PanelsServer backed by the given store and publisher.
func NewPanelsServer(s store.Store, p events.Publisher, opts Options) *PanelsServer {
	if opts.History == nil {
		opts.History = live.NewMemoryHistory(live.DefaultCapacity)
	}
	if opts.Auth == nil {
		opts.Auth = &auth.Authenticator{}
	}
	if opts.InstanceID == "" {
		id, err := idgen.Instance()
		if err != nil {
			id = "i-local"
		}
		opts.InstanceID = id
	}

	srv := &PanelsServer{
		store:        s,
		publisher:    p,
		history:      opts.History,
		auth:         opts.Auth,
		changes:      newChangeHub(),
		metrics:      NewMetrics(),
		Presence:     presence.New(),
		cookieSecure: opts.CookieSecure,
		instanceID:   opts.InstanceID,
	}
	srv.changes.onDrop = srv.metrics.SSEDropped.Inc
	srv.metrics.Registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "panels",
		Name:      "live_active_senders",
		Help:      "Connected live senders that are not idle.",
	}, func() float64 { return float64(srv.Presence.Active()) }))
	srv.live = newLiveHub(srv, opts.AllowedOrigins)
	return srv
}

// InstanceID identifies this server among relay peers.
func (s *PanelsServer) InstanceID() string { return s.instanceID }

// Metrics returns the server's Prometheus collectors.
func (s *PanelsServer) Metrics() *Metrics { return s.metrics }

// recordAndPublish publishes a change event to NATS and fans it out to SSE
// clients. Publishing is best-effort; failures are logged.
func (s *PanelsServer) recordAndPublish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
	s.broadcastEvent(topic, event)
}

// inputError indicates invalid user input.
// Transport layers map this to 400 / InvalidArgument.
type inputError string

func (e inputError) Error() string { return string(e) }
