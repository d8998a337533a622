package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/model"
)

// StartRelay subscribes to live frames published by other server instances
// and fans them out to this instance's sockets. It returns once the
// subscription is in place; delivery stops when ctx is cancelled.
func (s *PanelsServer) StartRelay(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicLiveAll)
	if err != nil {
		return fmt.Errorf("subscribing to live relay: %w", err)
	}

	if d, ok := sub.(interface{ Dropped() int64 }); ok {
		dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "panels",
			Name:      "relay_frames_dropped_total",
			Help:      "Relayed payloads dropped because the relay fell behind.",
		}, func() float64 { return float64(d.Dropped()) })
		if err := s.metrics.Registry.Register(dropped); err != nil {
			slog.Debug("relay drop counter not registered", "error", err)
		}
	}

	// A shared history already holds what peers appended.
	_, shared := s.history.(*live.RedisHistory)

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-ch:
				if !ok {
					return
				}
				s.acceptRelayed(ctx, data, shared)
			}
		}
	}()

	slog.Info("live relay started", "instance", s.instanceID, "shared_history", shared)
	return nil
}

func (s *PanelsServer) acceptRelayed(ctx context.Context, data []byte, sharedHistory bool) {
	var msg events.LiveRelayed
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("dropping malformed relay message", "error", err)
		return
	}
	if msg.Origin == s.instanceID {
		return
	}
	ev := msg.Event
	if err := model.ValidateLiveEvent(&ev); err != nil {
		slog.Warn("dropping invalid relayed frame", "origin", msg.Origin, "error", err)
		return
	}

	s.metrics.RelayReceived.Inc()
	if ev.IsClear() {
		if !sharedHistory {
			if err := s.history.Clear(ctx, ev.Type); err != nil {
				slog.Warn("failed to clear relayed type", "type", ev.Type, "error", err)
			}
		}
		s.live.broadcast(ev)
		return
	}
	if !sharedHistory {
		if err := s.history.Append(ctx, ev); err != nil {
			slog.Warn("failed to record relayed frame", "type", ev.Type, "error", err)
		}
	}
	s.Presence.Observe(ev)
	s.live.broadcast(ev)
	s.metrics.LiveFrames.WithLabelValues(string(ev.Type), "relay").Inc()
}
