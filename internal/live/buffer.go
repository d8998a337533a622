// Package live holds transient live data: the bounded per-sender event
// buffer, server-side history backends, and the client connection manager.
package live

import (
	"slices"
	"sync"

	"github.com/alfredjeanlab/panels/internal/model"
)

// DefaultCapacity is the number of events kept per (type, sender).
const DefaultCapacity = 200

// Buffer keeps the most recent events per (type, sender). Each type has its
// own lock so chat traffic never waits on datasource ticks.
type Buffer struct {
	capacity int

	mu      sync.Mutex // guards buckets
	buckets map[model.LiveType]*bucket

	watchMu  sync.RWMutex
	watchers map[*watcher]struct{}
}

type bucket struct {
	mu      sync.Mutex
	senders map[string][]model.LiveEvent
}

type watcher struct {
	typ    model.LiveType
	sender string // "" watches every sender of typ
	ch     chan model.LiveEvent
}

// NewBuffer creates a buffer holding up to capacity events per sender.
// A capacity of zero or less selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		buckets:  make(map[model.LiveType]*bucket),
		watchers: make(map[*watcher]struct{}),
	}
}

// Capacity returns the per-sender bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) bucket(t model.LiveType) *bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.buckets[t]
	if !ok {
		bk = &bucket{senders: make(map[string][]model.LiveEvent)}
		b.buckets[t] = bk
	}
	return bk
}

// Ingest appends ev to its (type, sender) sequence, dropping the oldest
// entries beyond capacity.
func (b *Buffer) Ingest(ev model.LiveEvent) {
	bk := b.bucket(ev.Type)

	bk.mu.Lock()
	seq := append(bk.senders[ev.Sender], ev)
	if over := len(seq) - b.capacity; over > 0 {
		seq = seq[over:]
	}
	bk.senders[ev.Sender] = seq
	// Notifying under the bucket lock keeps Follow's backlog and channel
	// disjoint.
	b.notify(ev)
	bk.mu.Unlock()
}

// Clear empties every sender sequence under t. Other types are untouched.
// Watchers of t receive a clear frame.
func (b *Buffer) Clear(t model.LiveType) {
	bk := b.bucket(t)
	bk.mu.Lock()
	bk.senders = make(map[string][]model.LiveEvent)
	b.notify(model.LiveEvent{Type: t, Control: model.LiveClear})
	bk.mu.Unlock()
}

// Events returns a copy of the ordered sequence for (t, sender), oldest first.
func (b *Buffer) Events(t model.LiveType, sender string) []model.LiveEvent {
	bk := b.bucket(t)
	bk.mu.Lock()
	defer bk.mu.Unlock()
	out := make([]model.LiveEvent, len(bk.senders[sender]))
	copy(out, bk.senders[sender])
	return out
}

// Senders lists the senders under t that currently hold events, sorted.
func (b *Buffer) Senders(t model.LiveType) []string {
	bk := b.bucket(t)
	bk.mu.Lock()
	out := make([]string, 0, len(bk.senders))
	for s, seq := range bk.senders {
		if len(seq) > 0 {
			out = append(out, s)
		}
	}
	bk.mu.Unlock()
	slices.Sort(out)
	return out
}

// Watch delivers events ingested under (t, sender) after the call. An empty
// sender watches the whole type. Delivery never blocks Ingest: a watcher that
// falls behind misses frames. Call cancel to stop and close the channel.
func (b *Buffer) Watch(t model.LiveType, sender string) (<-chan model.LiveEvent, func()) {
	w := &watcher{typ: t, sender: sender, ch: make(chan model.LiveEvent, 64)}

	b.watchMu.Lock()
	b.watchers[w] = struct{}{}
	b.watchMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.watchMu.Lock()
			delete(b.watchers, w)
			close(w.ch)
			b.watchMu.Unlock()
		})
	}
	return w.ch, cancel
}

// Follow is Watch plus the frames already buffered under (t, sender), or
// under every sender of t when sender is empty. Every frame lands either in
// the backlog or on the channel, never both.
func (b *Buffer) Follow(t model.LiveType, sender string) ([]model.LiveEvent, <-chan model.LiveEvent, func()) {
	bk := b.bucket(t)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	ch, cancel := b.Watch(t, sender)
	var backlog []model.LiveEvent
	if sender != "" {
		backlog = slices.Clone(bk.senders[sender])
	} else {
		for _, seq := range bk.senders {
			backlog = append(backlog, seq...)
		}
	}
	return backlog, ch, cancel
}

func (b *Buffer) notify(ev model.LiveEvent) {
	b.watchMu.RLock()
	defer b.watchMu.RUnlock()
	for w := range b.watchers {
		if w.typ != ev.Type {
			continue
		}
		if w.sender != "" && !ev.IsClear() && w.sender != ev.Sender {
			continue
		}
		select {
		case w.ch <- ev:
		default:
		}
	}
}
