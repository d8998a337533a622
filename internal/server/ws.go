package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/model"
)

const (
	wsSendQueue    = 64
	wsMaxFrame     = 64 << 10
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
)

// liveHub fans every accepted live frame out to all connected sockets,
// the sender's own socket included.
type liveHub struct {
	srv      *PanelsServer
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*liveClient]struct{}
}

// liveClient is one connected socket. send is closed by the hub when the
// socket unregisters.
type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newLiveHub(srv *PanelsServer, allowedOrigins []string) *liveHub {
	h := &liveHub{
		srv:     srv,
		clients: make(map[*liveClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowedOrigins) == 0 || origin == "" {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

func (h *liveHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS handles GET /ws.
func (h *liveHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, wsSendQueue)}
	h.register(c)
	slog.Info("live socket opened", "remote", r.RemoteAddr)

	go h.writePump(c)
	senders := h.readPump(r.Context(), c)

	h.unregister(c)
	for s := range senders {
		h.srv.Presence.Disconnected(s)
	}
	slog.Info("live socket closed", "remote", r.RemoteAddr, "senders", len(senders))
}

func (h *liveHub) register(c *liveClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.srv.metrics.LiveSockets.Inc()
}

func (h *liveHub) unregister(c *liveClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.srv.metrics.LiveSockets.Dec()
}

// readPump accepts frames until the socket fails and returns the senders
// seen on it.
func (h *liveHub) readPump(ctx context.Context, c *liveClient) map[string]struct{} {
	defer c.conn.Close()

	senders := make(map[string]struct{})
	c.conn.SetReadLimit(wsMaxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("live socket read error", "error", err)
			}
			return senders
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var ev model.LiveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			h.srv.metrics.LiveRejected.Inc()
			slog.Warn("dropping malformed live frame", "error", err)
			continue
		}
		if err := validateInbound(&ev); err != nil {
			h.srv.metrics.LiveRejected.Inc()
			slog.Warn("dropping invalid live frame", "error", err)
			continue
		}
		senders[ev.Sender] = struct{}{}
		h.srv.acceptLive(ctx, ev)
	}
}

func (h *liveHub) writePump(c *liveClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast queues ev on every socket. A socket whose queue is full misses
// the frame.
func (h *liveHub) broadcast(ev model.LiveEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to marshal live frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.srv.metrics.LiveDropped.Inc()
		}
	}
}

// acceptLive handles a frame from a local socket or a gRPC producer: stamp,
// record, fan out locally and relay to peer instances.
func (s *PanelsServer) acceptLive(ctx context.Context, ev model.LiveEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.history.Append(ctx, ev); err != nil {
		slog.Warn("failed to record live frame", "type", ev.Type, "sender", ev.Sender, "error", err)
	}
	s.Presence.Observe(ev)
	s.live.broadcast(ev)
	s.metrics.LiveFrames.WithLabelValues(string(ev.Type), "local").Inc()

	relay := events.LiveRelayed{Origin: s.instanceID, Event: ev}
	if err := s.publisher.Publish(ctx, events.LiveTopic(ev.Type), relay); err != nil {
		slog.Warn("failed to relay live frame", "type", ev.Type, "error", err)
	}
}

// PublishLive validates ev and accepts it like a frame from a local socket.
// In-process producers such as the datasource poller use it.
func (s *PanelsServer) PublishLive(ctx context.Context, ev model.LiveEvent) error {
	if err := validateInbound(&ev); err != nil {
		s.metrics.LiveRejected.Inc()
		return err
	}
	s.acceptLive(ctx, ev)
	return nil
}

// validateInbound checks a frame from a producer. Control frames are the
// server's own and are refused.
func validateInbound(ev *model.LiveEvent) error {
	if ev.Control != "" {
		return &model.ValidationError{Errors: []model.FieldError{{Field: "control", Message: "is reserved for the server"}}}
	}
	return model.ValidateLiveEvent(ev)
}

// ClearLive empties the history of t and tells every viewer, here and on
// peer instances, to drop its frames.
func (s *PanelsServer) ClearLive(ctx context.Context, t model.LiveType) error {
	if err := s.history.Clear(ctx, t); err != nil {
		return err
	}
	frame := model.ClearFrame(t, time.Now().UTC())
	s.live.broadcast(frame)

	relay := events.LiveRelayed{Origin: s.instanceID, Event: frame}
	if err := s.publisher.Publish(ctx, events.LiveTopic(t), relay); err != nil {
		slog.Warn("failed to relay live clear", "type", t, "error", err)
	}
	slog.Info("live type cleared", "type", t)
	return nil
}
