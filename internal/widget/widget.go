// Package widget binds one mounted component to its registry entry and, for
// live kinds, to the live buffer.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alfredjeanlab/panels/internal/live"
	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/registry"
)

var (
	// ErrNotPermitted is returned when a widget is asked to do something its
	// kind does not support.
	ErrNotPermitted = errors.New("operation not permitted for this widget")
	// ErrUnmounted is returned by operations on an unmounted widget.
	ErrUnmounted = errors.New("widget is unmounted")
)

// Deps are the shared stores a widget reads from.
type Deps struct {
	Registry *registry.Set
	Buffer   *live.Buffer
}

// View is one rendering of a widget: its metadata with any local geometry
// applied, what it may do and, for live kinds, the frames it shows.
type View struct {
	Component    model.Component
	Capabilities Capability
	Live         []model.LiveEvent
	Removed      bool

	// Seq counts every frame the widget has taken in since it mounted and
	// Clears every clear; Live only holds the newest of them.
	Seq    uint64
	Clears uint64
}

// Fresh returns the frames in v that prev had not shown, and whether the
// live data was cleared in between.
func (v View) Fresh(prev View) ([]model.LiveEvent, bool) {
	n := v.Seq - prev.Seq
	if v.Seq < prev.Seq {
		n = 0
	}
	if n > uint64(len(v.Live)) {
		n = uint64(len(v.Live))
	}
	return v.Live[len(v.Live)-int(n):], v.Clears != prev.Clears
}

// Widget is a mounted component.
type Widget struct {
	kind model.Kind
	id   string
	caps Capability
	reg  *registry.Registry
	buf  *live.Buffer

	mu       sync.Mutex
	comp     model.Component
	events   []model.LiveEvent
	removed  bool
	liveType model.LiveType
	sender   string
	seq      uint64
	clears   uint64

	updates chan View
	cancel  context.CancelFunc
	done    chan struct{}
}

// Mount reads the component from the registry, fetching it when the registry
// does not hold it yet, and starts following registry and live changes.
func Mount(ctx context.Context, deps Deps, kind model.Kind, id string) (*Widget, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("mounting %s: unknown kind %q", id, kind)
	}
	reg := deps.Registry.For(kind)
	comp, ok := reg.Get(id)
	if !ok {
		var err error
		comp, err = reg.FetchByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("mounting %s %s: %w", kind, id, err)
		}
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		kind:    kind,
		id:      id,
		caps:    CapabilitiesFor(kind),
		reg:     reg,
		buf:     deps.Buffer,
		comp:    *comp,
		updates: make(chan View, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var liveCh <-chan model.LiveEvent
	stopLive := func() {}
	if deps.Buffer != nil {
		if t, sender, ok := liveSource(comp); ok {
			w.liveType, w.sender = t, sender
			var backlog []model.LiveEvent
			backlog, liveCh, stopLive = deps.Buffer.Follow(t, sender)
			w.events = w.seed(backlog)
			w.seq = uint64(len(w.events))
		}
	}
	changes := reg.Watch(wctx)

	go w.run(wctx, liveCh, stopLive, changes)
	slog.Debug("widget mounted", "kind", kind, "id", id, "live", w.liveType)
	return w, nil
}

// liveSource returns the buffer key a component follows. Chats follow every
// sender of the chat type and keep frames addressed to them; graphs follow
// the datasource named in their fields.
func liveSource(c *model.Component) (model.LiveType, string, bool) {
	switch c.Kind {
	case model.KindChats:
		return model.LiveChats, "", true
	case model.KindGraphs:
		var ds string
		if c.Field("datasource", &ds) && ds != "" {
			return model.LiveDatasources, ds, true
		}
	}
	return "", "", false
}

func (w *Widget) wants(ev model.LiveEvent) bool {
	if w.kind == model.KindChats {
		return ev.Target == w.id
	}
	return true
}

// seed keeps the buffered frames the widget shows, oldest first.
func (w *Widget) seed(backlog []model.LiveEvent) []model.LiveEvent {
	var out []model.LiveEvent
	for _, ev := range backlog {
		if w.wants(ev) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit := w.buf.Capacity(); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (w *Widget) run(ctx context.Context, liveCh <-chan model.LiveEvent, stopLive func(), changes <-chan registry.Change) {
	defer close(w.done)
	defer stopLive()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-liveCh:
			if !ok {
				liveCh = nil
				continue
			}
			w.applyLive(ev)
		case ch, ok := <-changes:
			if !ok {
				return
			}
			if ch.ID != w.id {
				continue
			}
			w.applyChange(ch)
		}
	}
}

func (w *Widget) applyLive(ev model.LiveEvent) {
	w.mu.Lock()
	switch {
	case ev.IsClear():
		w.events = nil
		w.clears++
	case !w.wants(ev):
		w.mu.Unlock()
		return
	default:
		w.seq++
		w.events = append(w.events, ev)
		if limit := w.buf.Capacity(); len(w.events) > limit {
			w.events = w.events[len(w.events)-limit:]
		}
	}
	w.mu.Unlock()
	w.publish()
}

func (w *Widget) applyChange(ch registry.Change) {
	w.mu.Lock()
	if ch.Removed {
		w.removed = true
	} else if c, ok := w.reg.Get(w.id); ok {
		w.comp = *c
	}
	w.mu.Unlock()
	w.publish()
}

// View returns the current rendering.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

func (w *Widget) viewLocked() View {
	v := View{
		Component:    w.comp,
		Capabilities: w.caps,
		Removed:      w.removed,
		Seq:          w.seq,
		Clears:       w.clears,
	}
	if len(w.comp.Fields) > 0 {
		v.Component.Fields = append([]byte(nil), w.comp.Fields...)
	}
	if len(w.events) > 0 {
		v.Live = append([]model.LiveEvent(nil), w.events...)
	}
	return v
}

// Updates delivers the latest view after every change. Only the newest
// undelivered view is kept.
func (w *Widget) Updates() <-chan View {
	return w.updates
}

func (w *Widget) publish() {
	v := w.View()
	for {
		select {
		case w.updates <- v:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

// DragStop moves the widget locally and persists the position. When the
// write fails the widget shows whatever the registry holds.
func (w *Widget) DragStop(ctx context.Context, pos model.Position) error {
	if err := w.check(Draggable); err != nil {
		return err
	}
	w.mu.Lock()
	w.comp.Position = pos
	w.mu.Unlock()
	w.publish()

	if _, err := w.reg.UpdatePosition(ctx, w.id, pos); err != nil {
		w.resync()
		return err
	}
	return nil
}

// ResizeStop resizes the widget locally and persists the size. When the
// write fails the widget shows whatever the registry holds.
func (w *Widget) ResizeStop(ctx context.Context, size model.Size) error {
	if err := w.check(Resizable); err != nil {
		return err
	}
	w.mu.Lock()
	w.comp.Size = size
	w.mu.Unlock()
	w.publish()

	if _, err := w.reg.UpdateSize(ctx, w.id, size); err != nil {
		w.resync()
		return err
	}
	return nil
}

// Remove deletes the component.
func (w *Widget) Remove(ctx context.Context) error {
	if err := w.check(Removable); err != nil {
		return err
	}
	if err := w.reg.Remove(ctx, w.id); err != nil {
		return err
	}
	w.mu.Lock()
	w.removed = true
	w.mu.Unlock()
	w.publish()
	return nil
}

func (w *Widget) check(want Capability) error {
	w.mu.Lock()
	removed := w.removed
	w.mu.Unlock()
	select {
	case <-w.done:
		return ErrUnmounted
	default:
	}
	if removed || !w.caps.Has(want) {
		return fmt.Errorf("%s %s: %w", w.kind, w.id, ErrNotPermitted)
	}
	return nil
}

func (w *Widget) resync() {
	if c, ok := w.reg.Get(w.id); ok {
		w.mu.Lock()
		w.comp = *c
		w.mu.Unlock()
		w.publish()
	}
}

// Unmount stops following changes. It is safe to call more than once.
func (w *Widget) Unmount() {
	w.cancel()
	<-w.done
}
