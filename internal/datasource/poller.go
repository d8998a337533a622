// Package datasource polls the HTTP endpoints configured on datasource
// components and injects each response as a live frame.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/panels/internal/model"
)

const (
	// DefaultInterval applies when a datasource sets no interval_secs.
	DefaultInterval = 10 * time.Second

	maxBody      = 1 << 20
	fetchTimeout = 10 * time.Second
	fetchWorkers = 4
)

// Lister returns the datasource components to poll. Both store.Store and
// client.HTTPClient satisfy it.
type Lister interface {
	ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error)
}

// Injector accepts a live frame as if a producer had sent it.
type Injector interface {
	Publish(ctx context.Context, ev model.LiveEvent) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, ev model.LiveEvent) error

// Publish calls f(ctx, ev).
func (f InjectorFunc) Publish(ctx context.Context, ev model.LiveEvent) error { return f(ctx, ev) }

// Poller sweeps datasource components every tick and fetches each one that
// is due.
type Poller struct {
	lister   Lister
	injector Injector
	tick     time.Duration
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller. A nil logger uses slog.Default().
func NewPoller(l Lister, inj Injector, tick time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		lister:   l,
		injector: inj,
		tick:     tick,
		http:     &http.Client{Timeout: fetchTimeout},
		logger:   logger,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Start begins polling. It sweeps once immediately, then on each tick.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop cancels polling and waits for an in-progress sweep to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context) {
	p.Sweep(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep fetches every datasource whose interval has elapsed and returns how
// many frames were injected.
func (p *Poller) Sweep(ctx context.Context) int {
	sources, err := p.lister.ListComponents(ctx, model.KindDatasources)
	if err != nil {
		p.logger.Error("datasource list failed", "err", err)
		return 0
	}

	now := p.now()
	due := make([]*model.Component, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))

	p.mu.Lock()
	for _, ds := range sources {
		seen[ds.ID] = struct{}{}
		var url string
		if !ds.Field("url", &url) || url == "" {
			continue
		}
		if last, ok := p.last[ds.ID]; ok && now.Sub(last) < interval(ds) {
			continue
		}
		p.last[ds.ID] = now
		due = append(due, ds)
	}
	for id := range p.last {
		if _, ok := seen[id]; !ok {
			delete(p.last, id)
		}
	}
	p.mu.Unlock()

	var (
		mu       sync.Mutex
		injected int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchWorkers)
	for _, ds := range due {
		g.Go(func() error {
			ev, err := p.fetch(gctx, ds)
			if err != nil {
				p.logger.Warn("datasource fetch failed", "id", ds.ID, "err", err)
				return nil
			}
			if err := p.injector.Publish(gctx, ev); err != nil {
				p.logger.Warn("datasource inject failed", "id", ds.ID, "err", err)
				return nil
			}
			mu.Lock()
			injected++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(due) > 0 {
		p.logger.Debug("datasource sweep completed", "due", len(due), "injected", injected)
	}
	return injected
}

func interval(ds *model.Component) time.Duration {
	var secs int
	if ds.Field("interval_secs", &secs) && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultInterval
}

func (p *Poller) fetch(ctx context.Context, ds *model.Component) (model.LiveEvent, error) {
	var url, method, path string
	ds.Field("url", &url)
	ds.Field("method", &method)
	ds.Field("path", &path)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return model.LiveEvent{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return model.LiveEvent{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return model.LiveEvent{}, fmt.Errorf("reading %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.LiveEvent{}, fmt.Errorf("fetching %s: HTTP %d", url, resp.StatusCode)
	}

	data := json.RawMessage(raw)
	if path != "" {
		data, err = Extract(raw, path)
		if err != nil {
			return model.LiveEvent{}, err
		}
	} else if !json.Valid(raw) {
		return model.LiveEvent{}, fmt.Errorf("response from %s is not JSON", url)
	}

	return model.LiveEvent{
		Type:      model.LiveDatasources,
		Sender:    ds.ID,
		Data:      data,
		Timestamp: p.now().UTC(),
	}, nil
}

// Extract walks a dotted path ("data.series.0.value") through a JSON
// document. Numeric segments index arrays.
func Extract(doc []byte, path string) (json.RawMessage, error) {
	cur := json.RawMessage(doc)
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err == nil {
			next, ok := obj[seg]
			if !ok {
				return nil, fmt.Errorf("path %q: no key %q", path, seg)
			}
			cur = next
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(cur, &arr); err != nil {
			return nil, fmt.Errorf("path %q: cannot descend into %q", path, seg)
		}
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(arr) {
			return nil, fmt.Errorf("path %q: bad index %q", path, seg)
		}
		cur = arr[i]
	}
	return cur, nil
}
