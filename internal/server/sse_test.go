package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/model"
)

func change(topic string, data string, refs ...string) *changeEvent {
	return &changeEvent{Topic: topic, Refs: refs, Data: []byte(data)}
}

func recv(t *testing.T, c *changeClient) *changeEvent {
	t.Helper()
	select {
	case e := <-c.ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return nil
	}
}

func expectNone(t *testing.T, c *changeClient) {
	t.Helper()
	select {
	case e := <-c.ch:
		t.Fatalf("unexpected event: topic=%q refs=%v", e.Topic, e.Refs)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangeHub_BroadcastAndReceive(t *testing.T) {
	hub := newChangeHub()
	client := hub.subscribe(changeFilter{})
	defer hub.unsubscribe(client)

	hub.broadcast(change(events.TopicComponentCreated, `{"id":"tx-1"}`))

	e := recv(t, client)
	if e.Topic != events.TopicComponentCreated || string(e.Data) != `{"id":"tx-1"}` || e.ID != 1 {
		t.Fatalf("got %+v", e)
	}
}

func TestChangeHub_TopicFilter(t *testing.T) {
	hub := newChangeHub()
	client := hub.subscribe(changeFilter{topics: []string{"panels.component.*", "panels.dashboard.deleted"}})
	defer hub.unsubscribe(client)

	hub.broadcast(change(events.TopicComponentAttached, `{}`))
	hub.broadcast(change(events.TopicComponentCreated, `{}`))
	hub.broadcast(change(events.TopicDashboardDeleted, `{}`))
	hub.broadcast(change("panels.live.chats", `{}`))

	if e := recv(t, client); e.Topic != events.TopicComponentCreated {
		t.Fatalf("first = %q", e.Topic)
	}
	if e := recv(t, client); e.Topic != events.TopicDashboardDeleted {
		t.Fatalf("second = %q", e.Topic)
	}
	expectNone(t, client)
}

func TestChangeHub_KindAndRefFilters(t *testing.T) {
	hub := newChangeHub()
	graphs := hub.subscribe(changeFilter{kinds: []model.Kind{model.KindGraphs}})
	defer hub.unsubscribe(graphs)
	board := hub.subscribe(changeFilter{refs: []string{"db-1"}})
	defer hub.unsubscribe(board)

	hub.broadcast(&changeEvent{Topic: events.TopicComponentUpdated, Kind: model.KindTexts, Refs: []string{"tx-1"}})
	hub.broadcast(&changeEvent{Topic: events.TopicComponentUpdated, Kind: model.KindGraphs, Refs: []string{"gr-1"}})
	hub.broadcast(&changeEvent{Topic: events.TopicComponentAttached, Kind: model.KindGraphs, Refs: []string{"db-1", "gr-1"}})

	if e := recv(t, graphs); e.Refs[0] != "gr-1" {
		t.Fatalf("graphs first = %v", e.Refs)
	}
	if e := recv(t, graphs); e.Topic != events.TopicComponentAttached {
		t.Fatalf("graphs second = %q", e.Topic)
	}
	expectNone(t, graphs)

	if e := recv(t, board); e.Topic != events.TopicComponentAttached {
		t.Fatalf("board = %q", e.Topic)
	}
	expectNone(t, board)
}

func TestChangeHub_Unsubscribe(t *testing.T) {
	hub := newChangeHub()
	client := hub.subscribe(changeFilter{})
	if hub.clientCount() != 1 {
		t.Fatalf("clientCount = %d", hub.clientCount())
	}
	hub.unsubscribe(client)
	if hub.clientCount() != 0 {
		t.Fatalf("clientCount = %d after unsubscribe", hub.clientCount())
	}

	hub.broadcast(change(events.TopicComponentCreated, `{}`))
	expectNone(t, client)
}

func TestChangeHub_DropsWhenQueueFull(t *testing.T) {
	hub := newChangeHub()
	dropped := 0
	hub.onDrop = func() { dropped++ }
	client := hub.subscribe(changeFilter{})
	defer hub.unsubscribe(client)

	for range sseClientQueue + 5 {
		hub.broadcast(change(events.TopicComponentUpdated, `{}`))
	}
	if dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
	if len(client.ch) != sseClientQueue {
		t.Fatalf("queued = %d", len(client.ch))
	}
}

func TestChangeHub_Since(t *testing.T) {
	hub := newChangeHub()
	if got := hub.since(0); len(got) != 0 {
		t.Fatalf("since(0) on empty hub = %d events", len(got))
	}

	for i := range 5 {
		hub.broadcast(change(events.TopicComponentCreated, fmt.Sprintf(`{"n":%d}`, i)))
	}
	got := hub.since(2)
	if len(got) != 3 || got[0].ID != 3 || got[2].ID != 5 {
		t.Fatalf("since(2) = %d events starting at %d", len(got), got[0].ID)
	}
	if got := hub.since(5); len(got) != 0 {
		t.Fatalf("since(latest) = %d events", len(got))
	}
	if got := hub.since(0); len(got) != 5 {
		t.Fatalf("since(0) = %d events", len(got))
	}
}

func TestChangeHub_ReplayWindow(t *testing.T) {
	hub := newChangeHub()
	for range sseReplaySize + 100 {
		hub.broadcast(change(events.TopicComponentCreated, `{}`))
	}

	got := hub.since(0)
	if len(got) != sseReplaySize {
		t.Fatalf("retained %d events, want %d", len(got), sseReplaySize)
	}
	if got[0].ID != 101 {
		t.Fatalf("oldest retained ID = %d, want 101", got[0].ID)
	}
}

func TestMatchTopicPattern(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"panels.component.created", "panels.component.created", true},
		{"panels.component.created", "panels.component.updated", false},
		{"panels.component.*", "panels.component.created", true},
		{"panels.component.*", "panels.dashboard.attached", false},
		{"panels.>", "panels.component.created", true},
		{"panels.>", "panels", false},
		{"panels.>", "other.topic", false},
		{"*.*.*", "panels.component.created", true},
		{"*.*.*", "panels.component", false},
	} {
		t.Run(tc.pattern+"_"+tc.topic, func(t *testing.T) {
			if got := matchTopicPattern(tc.pattern, tc.topic); got != tc.want {
				t.Fatalf("matchTopicPattern(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
			}
		})
	}
}

func TestChangeSubject(t *testing.T) {
	comp := &model.Component{ID: "mp-1", Kind: model.KindMaps}
	for _, tc := range []struct {
		name  string
		event any
		kind  model.Kind
		refs  []string
	}{
		{"created", events.ComponentCreated{Component: comp}, model.KindMaps, []string{"mp-1"}},
		{"deleted", events.ComponentDeleted{Kind: model.KindTexts, ID: "tx-9"}, model.KindTexts, []string{"tx-9"}},
		{"dashboard", events.DashboardDeleted{ID: "db-2"}, "", []string{"db-2"}},
		{"attached", events.ComponentAttached{
			DashboardID: "db-1",
			Component:   model.DashboardComponent{ComponentID: "gr-1", Type: model.KindGraphs},
		}, model.KindGraphs, []string{"db-1", "gr-1"}},
		{"detached", events.ComponentDetached{DashboardID: "db-1", ComponentID: "gr-1"}, "", []string{"db-1", "gr-1"}},
		{"unknown", struct{}{}, "", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			kind, refs := changeSubject(tc.event)
			if kind != tc.kind || strings.Join(refs, ",") != strings.Join(tc.refs, ",") {
				t.Fatalf("changeSubject = %q %v, want %q %v", kind, refs, tc.kind, tc.refs)
			}
		})
	}
}

// streamFor runs the event stream handler until stop is called and returns
// the recorded body.
func streamFor(t *testing.T, handler http.Handler, target string, header http.Header) (stop func() string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", target, nil).WithContext(ctx)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(rec, req)
	}()
	time.Sleep(50 * time.Millisecond)
	return func() string {
		time.Sleep(50 * time.Millisecond)
		cancel()
		<-done
		return rec.Body.String()
	}
}

func TestHandleEventStream_SSE(t *testing.T) {
	srv, _, handler := newTestServer()
	stop := streamFor(t, handler, "/api/events/stream", nil)

	if got := testutil.ToFloat64(srv.metrics.SSEClients); got != 1 {
		t.Fatalf("sse_clients = %v while connected", got)
	}
	srv.changes.broadcast(change(events.TopicComponentCreated, `{"id":"tx-sse1"}`))
	body := stop()

	if !strings.HasPrefix(body, "retry:3000\n\n") {
		t.Fatalf("expected retry hint first, got:\n%s", body)
	}
	if !strings.Contains(body, "event:panels.component.created") || !strings.Contains(body, `data:{"id":"tx-sse1"}`) {
		t.Fatalf("missing event in body:\n%s", body)
	}
	if got := testutil.ToFloat64(srv.metrics.SSEClients); got != 0 {
		t.Fatalf("sse_clients = %v after disconnect", got)
	}
}

func TestHandleEventStream_Filters(t *testing.T) {
	srv, _, handler := newTestServer()
	stop := streamFor(t, handler, "/api/events/stream?topics=panels.dashboard.*&ids=db-7", nil)

	srv.changes.broadcast(change(events.TopicComponentCreated, `{"id":"tx-1"}`, "tx-1"))
	srv.changes.broadcast(change(events.TopicComponentAttached, `{"dashboard_id":"db-1"}`, "db-1", "tx-1"))
	srv.changes.broadcast(change(events.TopicComponentAttached, `{"dashboard_id":"db-7"}`, "db-7", "tx-1"))
	body := stop()

	if strings.Contains(body, "panels.component.created") || strings.Contains(body, `"db-1"`) {
		t.Fatalf("expected filtered events to be skipped:\n%s", body)
	}
	if !strings.Contains(body, `"db-7"`) {
		t.Fatalf("expected db-7 attach in body:\n%s", body)
	}
}

func TestHandleEventStream_UnknownType(t *testing.T) {
	_, _, handler := newTestServer()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/events/stream?type=sprockets", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEventStream_LastEventID(t *testing.T) {
	srv, _, handler := newTestServer()
	srv.changes.broadcast(change(events.TopicComponentCreated, `{"n":1}`))
	srv.changes.broadcast(change(events.TopicComponentUpdated, `{"n":2}`))
	srv.changes.broadcast(change(events.TopicComponentDeleted, `{"n":3}`))

	body := streamFor(t, handler, "/api/events/stream", http.Header{"Last-Event-ID": {"1"}})()

	if strings.Contains(body, `data:{"n":1}`) {
		t.Fatalf("expected event 1 to be skipped:\n%s", body)
	}
	if !strings.Contains(body, `data:{"n":2}`) || !strings.Contains(body, `data:{"n":3}`) {
		t.Fatalf("expected events 2 and 3 replayed:\n%s", body)
	}
}

func TestHandleEventStream_RecordAndPublish(t *testing.T) {
	srv, _, handler := newTestServer()
	stop := streamFor(t, handler, "/api/events/stream?ids=db-sse-rp", nil)

	srv.recordAndPublish(context.Background(), events.TopicDashboardDeleted, events.DashboardDeleted{ID: "db-sse-rp"})
	body := stop()

	if !strings.Contains(body, "event:panels.dashboard.deleted") {
		t.Fatalf("expected change from recordAndPublish:\n%s", body)
	}
}

func TestSSEEventFormat(t *testing.T) {
	srv, _, handler := newTestServer()
	stop := streamFor(t, handler, "/api/events/stream", nil)
	srv.changes.broadcast(change(events.TopicComponentCreated, `{"id":"tx-fmt"}`))
	body := stop()

	scanner := bufio.NewScanner(strings.NewReader(body))
	var id, event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimPrefix(line, "id:")
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}
	if id != "1" {
		t.Fatalf("id = %q", id)
	}
	if event != events.TopicComponentCreated {
		t.Fatalf("event = %q", event)
	}
	if !json.Valid([]byte(data)) || data != `{"id":"tx-fmt"}` {
		t.Fatalf("data = %q", data)
	}
}
