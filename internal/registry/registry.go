// Package registry keeps a client-side copy of component metadata, one
// normalized collection per kind, in sync with the server.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/model"
)

// Backend is the persistence layer a registry syncs with. *client.HTTPClient
// satisfies it.
type Backend interface {
	ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error)
	GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error)
	CreateComponent(ctx context.Context, kind model.Kind, req *client.CreateComponentRequest) (*model.Component, error)
	UpdateComponent(ctx context.Context, kind model.Kind, id string, req *client.UpdateComponentRequest) (*model.Component, error)
	UpdatePosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error)
	UpdateSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error)
	DeleteComponent(ctx context.Context, kind model.Kind, id string) error
}

var _ Backend = (*client.HTTPClient)(nil)

// Status is the load state of a registry's collection.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// MutationState tracks the last write issued for one entity.
type MutationState string

const (
	MutationPending   MutationState = "pending"
	MutationCommitted MutationState = "committed"
	MutationFailed    MutationState = "failed"
)

// ErrUnknownComponent is wrapped into the error of a mutation naming an id
// the registry has never seen and the backend does not know either.
var ErrUnknownComponent = errors.New("unknown component")

// Failure reports a write that the backend rejected. Any optimistic change
// has already been reverted when it is delivered.
type Failure struct {
	Kind model.Kind
	ID   string
	Op   string
	Err  error
}

// Change tells watchers that an entity was added, replaced or removed.
type Change struct {
	Kind    model.Kind
	ID      string
	Removed bool
}

const (
	failureQueue = 32
	watchQueue   = 64
)

// Registry is the client-side collection for one component kind.
type Registry struct {
	kind    model.Kind
	backend Backend
	group   singleflight.Group

	mu        sync.RWMutex
	status    Status
	err       error
	entities  map[string]*model.Component
	mutations map[string]MutationState
	writes    map[string]*writes

	failures chan Failure

	watchMu  sync.Mutex
	watchers map[chan Change]struct{}
}

// New returns an idle registry for kind.
func New(kind model.Kind, backend Backend) *Registry {
	return &Registry{
		kind:      kind,
		backend:   backend,
		status:    StatusIdle,
		entities:  make(map[string]*model.Component),
		mutations: make(map[string]MutationState),
		writes:    make(map[string]*writes),
		failures:  make(chan Failure, failureQueue),
		watchers:  make(map[chan Change]struct{}),
	}
}

// Kind returns the component kind this registry holds.
func (r *Registry) Kind() model.Kind { return r.kind }

// Status returns the collection's load state.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Err returns the error that moved the registry to StatusFailed, if any.
func (r *Registry) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// EnsureLoaded fetches the collection only when the registry is idle.
// Concurrent callers share a single request. A failed load is not retried;
// call FetchAll to try again.
func (r *Registry) EnsureLoaded(ctx context.Context) error {
	_, err, _ := r.group.Do("all", func() (any, error) {
		r.mu.RLock()
		st, lastErr := r.status, r.err
		r.mu.RUnlock()
		switch st {
		case StatusIdle:
			return nil, r.fetchAll(ctx)
		case StatusFailed:
			return nil, lastErr
		}
		return nil, nil
	})
	return err
}

// FetchAll requests the full collection and upserts every entry.
func (r *Registry) FetchAll(ctx context.Context) error {
	_, err, _ := r.group.Do("all", func() (any, error) {
		return nil, r.fetchAll(ctx)
	})
	return err
}

func (r *Registry) fetchAll(ctx context.Context) error {
	r.mu.Lock()
	r.status = StatusLoading
	r.mu.Unlock()

	list, err := r.backend.ListComponents(ctx, r.kind)

	r.mu.Lock()
	if err != nil {
		r.status = StatusFailed
		r.err = err
		r.mu.Unlock()
		slog.Debug("registry load failed", "kind", r.kind, "error", err)
		return fmt.Errorf("loading %s: %w", r.kind, err)
	}
	ids := make([]string, 0, len(list))
	for _, c := range list {
		// An in-flight optimistic write wins over the snapshot.
		if r.mutations[c.ID] == MutationPending {
			continue
		}
		r.entities[c.ID] = clone(c)
		ids = append(ids, c.ID)
	}
	r.status = StatusSucceeded
	r.err = nil
	r.mu.Unlock()

	for _, id := range ids {
		r.notify(Change{Kind: r.kind, ID: id})
	}
	slog.Debug("registry loaded", "kind", r.kind, "count", len(list))
	return nil
}

// FetchByID requests one entity and upserts it.
func (r *Registry) FetchByID(ctx context.Context, id string) (*model.Component, error) {
	c, err := r.backend.GetComponent(ctx, r.kind, id)
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s: %w", r.kind, id, err)
	}
	r.upsert(c)
	return clone(c), nil
}

// Create persists a new entity, inserts it locally and returns its id.
func (r *Registry) Create(ctx context.Context, req *client.CreateComponentRequest) (string, error) {
	c, err := r.backend.CreateComponent(ctx, r.kind, req)
	if err != nil {
		r.fail("", "create", err)
		return "", fmt.Errorf("creating %s: %w", r.kind, err)
	}
	r.upsert(c)
	r.mu.Lock()
	r.mutations[c.ID] = MutationCommitted
	r.mu.Unlock()
	return c.ID, nil
}

// Update applies req locally, persists it and replaces the local entity with
// the server's copy. On failure the local entity is restored.
func (r *Registry) Update(ctx context.Context, id string, req *client.UpdateComponentRequest) (*model.Component, error) {
	return r.mutate(ctx, id, "update",
		func(c *model.Component) {
			if req.Name != nil {
				c.Name = *req.Name
			}
			if req.Position != nil {
				c.Position = *req.Position
			}
			if req.Size != nil {
				c.Size = *req.Size
			}
			if len(req.Fields) > 0 {
				if merged, err := model.MergeFields(c.Fields, req.Fields); err == nil {
					c.Fields = merged
				}
			}
		},
		func(ctx context.Context) (*model.Component, error) {
			return r.backend.UpdateComponent(ctx, r.kind, id, req)
		},
		func(local, remote *model.Component) { *local = *clone(remote) },
	)
}

// UpdatePosition moves an entity. Only the position (and update time) of
// the local entity changes.
func (r *Registry) UpdatePosition(ctx context.Context, id string, pos model.Position) (*model.Component, error) {
	return r.mutate(ctx, id, "position",
		func(c *model.Component) { c.Position = pos },
		func(ctx context.Context) (*model.Component, error) {
			return r.backend.UpdatePosition(ctx, r.kind, id, pos)
		},
		func(local, remote *model.Component) {
			local.Position = remote.Position
			local.UpdatedAt = remote.UpdatedAt
		},
	)
}

// UpdateSize resizes an entity. Only the size (and update time) of the
// local entity changes.
func (r *Registry) UpdateSize(ctx context.Context, id string, size model.Size) (*model.Component, error) {
	return r.mutate(ctx, id, "size",
		func(c *model.Component) { c.Size = size },
		func(ctx context.Context) (*model.Component, error) {
			return r.backend.UpdateSize(ctx, r.kind, id, size)
		},
		func(local, remote *model.Component) {
			local.Size = remote.Size
			local.UpdatedAt = remote.UpdatedAt
		},
	)
}

// mutate runs the optimistic write protocol: apply locally and mark pending,
// persist, then merge the server's answer and mark committed, or revert,
// mark failed and report a Failure.
//
// Writes to one id may overlap. Each carries a generation; only the newest
// decides what the entity shows. A failed write reverts to the last state
// the server accepted, and an older write that fails after a newer one was
// issued leaves the newer optimistic value alone. The id stays pending
// until every write has settled.
func (r *Registry) mutate(
	ctx context.Context,
	id, op string,
	apply func(*model.Component),
	persist func(context.Context) (*model.Component, error),
	merge func(local, remote *model.Component),
) (*model.Component, error) {
	r.mu.Lock()
	w := r.writes[id]
	if w == nil {
		w = &writes{}
		r.writes[id] = w
	}
	local, known := r.entities[id]
	if w.open == 0 {
		w.confirmed = nil
		if known {
			w.confirmed = clone(local)
		}
	}
	w.latest++
	gen := w.latest
	w.open++
	w.settled = false
	if known {
		apply(local)
	}
	r.mutations[id] = MutationPending
	r.mu.Unlock()
	if known {
		r.notify(Change{Kind: r.kind, ID: id})
	}

	remote, err := persist(ctx)

	r.mu.Lock()
	w.open--
	newest := gen == w.latest
	changed := false
	var out *model.Component
	switch {
	case err != nil:
		if newest && w.confirmed != nil {
			r.entities[id] = clone(w.confirmed)
			changed = true
		}
	default:
		if w.confirmed != nil {
			merge(w.confirmed, remote)
		} else {
			w.confirmed = clone(remote)
		}
		// An older write that lands after the newest one settled is the
		// latest state the server holds.
		if newest || w.settled {
			if cur, ok := r.entities[id]; ok {
				merge(cur, remote)
			} else {
				r.entities[id] = clone(remote)
			}
			changed = true
		}
		if cur, ok := r.entities[id]; ok {
			out = clone(cur)
		} else {
			out = clone(remote)
		}
	}
	if newest {
		w.settled = true
		w.result = MutationCommitted
		if err != nil {
			w.result = MutationFailed
		}
	}
	if w.open == 0 {
		r.mutations[id] = w.result
		delete(r.writes, id)
	}
	r.mu.Unlock()

	if changed {
		r.notify(Change{Kind: r.kind, ID: id})
	}
	if err != nil {
		if !known && client.IsNotFound(err) {
			err = fmt.Errorf("%w: %w", ErrUnknownComponent, err)
		}
		r.fail(id, op, err)
		return nil, fmt.Errorf("%s %s %s: %w", op, r.kind, id, err)
	}
	return out, nil
}

// writes tracks the in-flight optimistic writes for one id.
type writes struct {
	latest    uint64           // generation of the newest write
	open      int              // writes not yet answered
	settled   bool             // the newest write has been answered
	result    MutationState    // outcome of the newest write
	confirmed *model.Component // last state the server accepted; nil if never held locally
}

// Remove deletes an entity on the server and then locally.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	r.mutations[id] = MutationPending
	r.mu.Unlock()

	if err := r.backend.DeleteComponent(ctx, r.kind, id); err != nil {
		r.mu.Lock()
		r.mutations[id] = MutationFailed
		r.mu.Unlock()
		r.fail(id, "remove", err)
		return fmt.Errorf("removing %s %s: %w", r.kind, id, err)
	}

	r.mu.Lock()
	delete(r.entities, id)
	delete(r.mutations, id)
	r.mu.Unlock()
	r.notify(Change{Kind: r.kind, ID: id, Removed: true})
	return nil
}

// Get returns a copy of the entity with id.
func (r *Registry) Get(id string) (*model.Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entities[id]
	if !ok {
		return nil, false
	}
	return clone(c), true
}

// All returns copies of every entity, ordered by id.
func (r *Registry) All() []*model.Component {
	r.mu.RLock()
	out := make([]*model.Component, 0, len(r.entities))
	for _, c := range r.entities {
		out = append(out, clone(c))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Mutation returns the state of the last write issued for id.
func (r *Registry) Mutation(id string) (MutationState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.mutations[id]
	return st, ok
}

// Failures delivers rejected writes. Failures are dropped when nobody drains
// the channel.
func (r *Registry) Failures() <-chan Failure {
	return r.failures
}

func (r *Registry) fail(id, op string, err error) {
	slog.Warn("registry write failed", "kind", r.kind, "id", id, "op", op, "error", err)
	select {
	case r.failures <- Failure{Kind: r.kind, ID: id, Op: op, Err: err}:
	default:
	}
}

// Watch delivers a Change for every local insert, replace or removal until
// ctx is done, then closes the channel. Slow watchers miss changes.
func (r *Registry) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchQueue)
	r.watchMu.Lock()
	r.watchers[ch] = struct{}{}
	r.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		r.watchMu.Lock()
		delete(r.watchers, ch)
		close(ch)
		r.watchMu.Unlock()
	}()
	return ch
}

func (r *Registry) notify(c Change) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	for ch := range r.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}

func (r *Registry) upsert(c *model.Component) {
	r.mu.Lock()
	r.entities[c.ID] = clone(c)
	r.mu.Unlock()
	r.notify(Change{Kind: r.kind, ID: c.ID})
}

func clone(c *model.Component) *model.Component {
	out := *c
	if c.Fields != nil {
		out.Fields = append([]byte(nil), c.Fields...)
	}
	return &out
}

// Set holds one registry per component kind over a shared backend.
type Set struct {
	backend Backend

	mu   sync.Mutex
	regs map[model.Kind]*Registry
}

// NewSet returns an empty set; registries are created on first use.
func NewSet(backend Backend) *Set {
	return &Set{backend: backend, regs: make(map[model.Kind]*Registry)}
}

// For returns the registry for kind, creating it when needed.
func (s *Set) For(kind model.Kind) *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regs[kind]
	if !ok {
		r = New(kind, s.backend)
		s.regs[kind] = r
	}
	return r
}

// LoadAll ensures every known kind is loaded, stopping at the first error.
func (s *Set) LoadAll(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	for _, k := range model.Kinds() {
		if err := s.For(k).EnsureLoaded(ctx); err != nil {
			return err
		}
	}
	return nil
}
