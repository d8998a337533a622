// Package presence keeps a roster of live senders: who is connected, what
// they last sent and which widgets they have been talking to.
//
// The live hub feeds the Tracker every accepted frame and every socket
// close. A sweeper started with Start marks senders quiet for too long as
// idle and later forgets them.
package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
)

// maxTargets bounds the recent targets remembered per sender.
const maxTargets = 5

// Entry is one sender as reported by Roster.
type Entry struct {
	Sender    string         `json:"sender"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
	LastType  model.LiveType `json:"last_type"`
	Targets   []string       `json:"targets,omitempty"` // most recent first
	Connected bool           `json:"connected"`
	Idle      bool           `json:"idle,omitempty"`
	Frames    int64          `json:"frames"`
	IdleSecs  float64        `json:"idle_secs"`
}

// Query narrows a roster. Zero values select everyone.
type Query struct {
	Stale  time.Duration // hide senders quiet for longer than this
	Target string        // only senders that recently addressed this widget
}

// Config tunes the sweeper.
type Config struct {
	IdleAfter  time.Duration // default 15m
	ForgetIdle time.Duration // default 30m; halved for senders with few frames
	Every      time.Duration // default 1m

	// OnIdle runs outside the lock for each sender that just went idle.
	OnIdle func(sender string)
}

func (c *Config) defaults() {
	if c.IdleAfter <= 0 {
		c.IdleAfter = 15 * time.Minute
	}
	if c.ForgetIdle <= 0 {
		c.ForgetIdle = 30 * time.Minute
	}
	if c.Every <= 0 {
		c.Every = time.Minute
	}
}

type sender struct {
	firstSeen time.Time
	lastSeen  time.Time
	lastType  model.LiveType
	targets   []string
	connected bool
	idle      bool
	idleSince time.Time
	frames    int64
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	senders map[string]*sender
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{senders: make(map[string]*sender), now: time.Now}
}

// Observe records a frame. Frames without a sender are ignored.
func (t *Tracker) Observe(ev model.LiveEvent) {
	if ev.Sender == "" {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.senders[ev.Sender]
	if !ok {
		s = &sender{firstSeen: now}
		t.senders[ev.Sender] = s
	}
	if s.idle {
		slog.Debug("presence: sender back", "sender", ev.Sender)
		s.idle, s.idleSince = false, time.Time{}
	}
	s.lastSeen = now
	s.lastType = ev.Type
	s.connected = true
	s.frames++
	if ev.Target != "" {
		s.targets = slices.DeleteFunc(s.targets, func(id string) bool { return id == ev.Target })
		s.targets = slices.Insert(s.targets, 0, ev.Target)
		if len(s.targets) > maxTargets {
			s.targets = s.targets[:maxTargets]
		}
	}
}

// Disconnected records that the socket carrying sender closed.
func (t *Tracker) Disconnected(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.senders[id]; ok {
		s.connected = false
	}
}

// Roster lists matching senders, most recently seen first.
func (t *Tracker) Roster(q Query) []Entry {
	now := t.now()
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.senders))
	for id, s := range t.senders {
		quiet := now.Sub(s.lastSeen)
		if q.Stale > 0 && quiet > q.Stale {
			continue
		}
		if q.Target != "" && !slices.Contains(s.targets, q.Target) {
			continue
		}
		entries = append(entries, Entry{
			Sender:    id,
			FirstSeen: s.firstSeen,
			LastSeen:  s.lastSeen,
			LastType:  s.lastType,
			Targets:   slices.Clone(s.targets),
			Connected: s.connected,
			Idle:      s.idle,
			Frames:    s.frames,
			IdleSecs:  quiet.Seconds(),
		})
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	return entries
}

// Active counts connected senders that are not idle.
func (t *Tracker) Active() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, s := range t.senders {
		if s.connected && !s.idle {
			n++
		}
	}
	return n
}

// Start runs the sweeper until Stop.
func (t *Tracker) Start(cfg Config) {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(cfg.Every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep(cfg)
			}
		}
	}()
	slog.Info("presence sweeper started", "idle_after", cfg.IdleAfter, "every", cfg.Every)
}

// Stop halts the sweeper and waits for it to exit.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tracker) sweep(cfg Config) {
	now := t.now()
	var wentIdle []string

	t.mu.Lock()
	for id, s := range t.senders {
		if s.idle {
			// Senders that only sent a few frames are usually passing
			// viewers.
			forget := cfg.ForgetIdle
			if s.frames < 10 {
				forget /= 2
			}
			if now.Sub(s.idleSince) > forget {
				delete(t.senders, id)
			}
			continue
		}
		if now.Sub(s.lastSeen) > cfg.IdleAfter {
			s.idle, s.idleSince, s.connected = true, now, false
			wentIdle = append(wentIdle, id)
		}
	}
	t.mu.Unlock()

	for _, id := range wentIdle {
		slog.Info("presence: sender idle", "sender", id, "after", cfg.IdleAfter)
		if cfg.OnIdle != nil {
			cfg.OnIdle(id)
		}
	}
}
