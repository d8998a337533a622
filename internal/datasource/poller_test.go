package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
)

type staticLister struct {
	mu    sync.Mutex
	items []*model.Component
	err   error
}

func (l *staticLister) ListComponents(_ context.Context, kind model.Kind) ([]*model.Component, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if kind != model.KindDatasources {
		return nil, nil
	}
	return l.items, l.err
}

type recordingInjector struct {
	mu     sync.Mutex
	events []model.LiveEvent
	err    error
}

func (r *recordingInjector) Publish(_ context.Context, ev model.LiveEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingInjector) all() []model.LiveEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.LiveEvent(nil), r.events...)
}

func datasource(id, url string, extra string) *model.Component {
	fields := `{"url":"` + url + `"` + extra + `}`
	return &model.Component{ID: id, Kind: model.KindDatasources, Fields: json.RawMessage(fields)}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(l Lister, inj Injector, now *time.Time) *Poller {
	p := NewPoller(l, inj, time.Second, quietLogger())
	p.now = func() time.Time { return *now }
	return p
}

func TestSweep_InjectsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inj := &recordingInjector{}
	p := newTestPoller(&staticLister{items: []*model.Component{datasource("ds-1", srv.URL, "")}}, inj, &now)

	if n := p.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 injected, got %d", n)
	}
	got := inj.all()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	ev := got[0]
	if ev.Type != model.LiveDatasources || ev.Sender != "ds-1" || string(ev.Data) != `{"value":42}` {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestSweep_RespectsInterval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`1`))
	}))
	defer srv.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lister := &staticLister{items: []*model.Component{
		datasource("ds-fast", srv.URL, `,"interval_secs":2`),
		datasource("ds-default", srv.URL, ""),
	}}
	p := newTestPoller(lister, &recordingInjector{}, &now)

	p.Sweep(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("first sweep: %d hits", hits.Load())
	}

	now = now.Add(time.Second)
	p.Sweep(context.Background())
	if hits.Load() != 2 {
		t.Fatalf("nothing should be due after 1s, got %d hits", hits.Load())
	}

	now = now.Add(time.Second)
	p.Sweep(context.Background())
	if hits.Load() != 3 {
		t.Fatalf("ds-fast due after 2s, got %d hits", hits.Load())
	}

	now = now.Add(8 * time.Second)
	p.Sweep(context.Background())
	if hits.Load() != 5 {
		t.Fatalf("both due after 10s, got %d hits", hits.Load())
	}
}

func TestSweep_PathAndMethod(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		_, _ = w.Write([]byte(`{"data":{"series":[{"v":1},{"v":7}]}}`))
	}))
	defer srv.Close()

	now := time.Now()
	inj := &recordingInjector{}
	lister := &staticLister{items: []*model.Component{
		datasource("ds-1", srv.URL, `,"method":"POST","path":"data.series.1.v"`),
	}}
	p := newTestPoller(lister, inj, &now)
	p.Sweep(context.Background())

	if method.Load() != http.MethodPost {
		t.Fatalf("method = %v", method.Load())
	}
	got := inj.all()
	if len(got) != 1 || string(got[0].Data) != "7" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestSweep_SkipsFailures(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer bad.Close()
	notJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer notJSON.Close()

	now := time.Now()
	inj := &recordingInjector{}
	lister := &staticLister{items: []*model.Component{
		datasource("ds-bad", bad.URL, ""),
		datasource("ds-html", notJSON.URL, ""),
		{ID: "ds-nourl", Kind: model.KindDatasources},
	}}
	p := newTestPoller(lister, inj, &now)
	if n := p.Sweep(context.Background()); n != 0 {
		t.Fatalf("expected nothing injected, got %d", n)
	}
}

func TestSweep_ListError(t *testing.T) {
	now := time.Now()
	p := newTestPoller(&staticLister{err: errors.New("db down")}, &recordingInjector{}, &now)
	if n := p.Sweep(context.Background()); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}

func TestSweep_ForgetsRemovedDatasources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`1`))
	}))
	defer srv.Close()

	now := time.Now()
	lister := &staticLister{items: []*model.Component{datasource("ds-1", srv.URL, "")}}
	p := newTestPoller(lister, &recordingInjector{}, &now)
	p.Sweep(context.Background())

	lister.mu.Lock()
	lister.items = nil
	lister.mu.Unlock()
	p.Sweep(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.last) != 0 {
		t.Fatalf("expected empty schedule, got %v", p.last)
	}
}

func TestExtract(t *testing.T) {
	doc := []byte(`{"a":{"b":[10,{"c":"x"}]}}`)
	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"a.b.0", "10", false},
		{"a.b.1.c", `"x"`, false},
		{"", string(doc), false},
		{"a.missing", "", true},
		{"a.b.9", "", true},
		{"a.b.0.deeper", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Extract(doc, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPoller_StartStop(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`1`))
	}))
	defer srv.Close()

	p := NewPoller(&staticLister{items: []*model.Component{datasource("ds-1", srv.URL, "")}},
		&recordingInjector{}, time.Hour, quietLogger())
	p.Start()
	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	if hits.Load() != 1 {
		t.Fatalf("expected initial sweep, got %d hits", hits.Load())
	}
}
