package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/model"
)

const (
	// sseReplaySize is how many change events are kept for Last-Event-ID
	// replay.
	sseReplaySize = 1000

	sseKeepaliveInterval = 15 * time.Second
	sseClientQueue       = 64

	// sseRetryMillis is the reconnect delay suggested to browsers.
	sseRetryMillis = 3000
)

// changeEvent is one store change as streamed to SSE clients. Refs holds the
// IDs of every dashboard and component the change touches; Kind is set when
// a single component kind is involved.
type changeEvent struct {
	ID    uint64
	Topic string
	Kind  model.Kind
	Refs  []string
	Data  []byte
}

// changeFilter selects the change events a client wants. Each non-empty
// field must match.
type changeFilter struct {
	topics []string // NATS-style patterns
	kinds  []model.Kind
	refs   []string
}

func (f changeFilter) match(e *changeEvent) bool {
	if len(f.topics) > 0 && !slices.ContainsFunc(f.topics, func(p string) bool {
		return matchTopicPattern(p, e.Topic)
	}) {
		return false
	}
	if len(f.kinds) > 0 && !slices.Contains(f.kinds, e.Kind) {
		return false
	}
	if len(f.refs) > 0 && !slices.ContainsFunc(f.refs, func(id string) bool {
		return slices.Contains(e.Refs, id)
	}) {
		return false
	}
	return true
}

// parseChangeFilter reads ?topics=, ?type= and ?ids= as comma lists.
func parseChangeFilter(r *http.Request) (changeFilter, error) {
	q := r.URL.Query()
	f := changeFilter{
		topics: splitList(q.Get("topics")),
		refs:   splitList(q.Get("ids")),
	}
	for _, name := range splitList(q.Get("type")) {
		kind, err := parseKind(name)
		if err != nil {
			return changeFilter{}, fmt.Errorf("%w %q", err, name)
		}
		f.kinds = append(f.kinds, kind)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// changeHub fans store changes out to SSE clients and remembers the most
// recent ones for reconnecting clients.
type changeHub struct {
	mu      sync.RWMutex
	clients map[*changeClient]struct{}
	nextID  uint64
	recent  []*changeEvent // oldest first, at most sseReplaySize
	onDrop  func()
}

type changeClient struct {
	filter changeFilter
	ch     chan *changeEvent
}

func newChangeHub() *changeHub {
	return &changeHub{
		clients: make(map[*changeClient]struct{}),
		onDrop:  func() {},
	}
}

// broadcast assigns the next ID and delivers to matching clients. A client
// whose queue is full misses the event; it can recover with Last-Event-ID.
func (h *changeHub) broadcast(e *changeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	e.ID = h.nextID
	if len(h.recent) == sseReplaySize {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:sseReplaySize-1]
	}
	h.recent = append(h.recent, e)
	for c := range h.clients {
		if !c.filter.match(e) {
			continue
		}
		select {
		case c.ch <- e:
		default:
			h.onDrop()
		}
	}
}

func (h *changeHub) subscribe(f changeFilter) *changeClient {
	c := &changeClient{filter: f, ch: make(chan *changeEvent, sseClientQueue)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *changeHub) unsubscribe(c *changeClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *changeHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// since returns retained events with ID > lastID, oldest first.
func (h *changeHub) since(lastID uint64) []*changeEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	i, _ := slices.BinarySearchFunc(h.recent, lastID+1, func(e *changeEvent, id uint64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		}
		return 0
	})
	return slices.Clone(h.recent[i:])
}

// matchTopicPattern matches a dot-separated topic. "*" matches one segment
// and a trailing ">" matches one or more.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		if p == ">" {
			return i < len(top)
		}
		if i >= len(top) || (p != "*" && p != top[i]) {
			return false
		}
	}
	return len(pat) == len(top)
}

// changeSubject extracts the kind and referenced IDs from a published event.
func changeSubject(event any) (model.Kind, []string) {
	switch e := event.(type) {
	case events.ComponentCreated:
		return e.Component.Kind, []string{e.Component.ID}
	case events.ComponentUpdated:
		return e.Component.Kind, []string{e.Component.ID}
	case events.ComponentDeleted:
		return e.Kind, []string{e.ID}
	case events.DashboardCreated:
		return "", []string{e.Dashboard.ID}
	case events.DashboardUpdated:
		return "", []string{e.Dashboard.ID}
	case events.DashboardDeleted:
		return "", []string{e.ID}
	case events.ComponentAttached:
		return e.Component.Type, []string{e.DashboardID, e.Component.ComponentID}
	case events.ComponentDetached:
		return "", []string{e.DashboardID, e.ComponentID}
	}
	return "", nil
}

// broadcastEvent forwards a published change to SSE clients.
func (s *PanelsServer) broadcastEvent(topic string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal change event", "topic", topic, "error", err)
		return
	}
	kind, refs := changeSubject(event)
	s.changes.broadcast(&changeEvent{Topic: topic, Kind: kind, Refs: refs, Data: payload})
}

// handleEventStream handles GET /api/events/stream.
func (s *PanelsServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	filter, err := parseChangeFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := s.changes.subscribe(filter)
	s.metrics.SSEClients.Inc()
	defer func() {
		s.changes.unsubscribe(client)
		s.metrics.SSEClients.Dec()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry:%d\n\n", sseRetryMillis)

	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if lastID, err := strconv.ParseUint(raw, 10, 64); err == nil {
			for _, e := range s.changes.since(lastID) {
				if filter.match(e) {
					writeChangeEvent(w, e)
				}
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-client.ch:
			writeChangeEvent(w, e)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeChangeEvent(w http.ResponseWriter, e *changeEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", e.ID, e.Topic, e.Data)
}
