package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/alfredjeanlab/panels/internal/model"
)

// fakeBackend is an in-memory Backend. Setting fail makes every call return it.
type fakeBackend struct {
	mu    sync.Mutex
	items map[string]*model.Component
	next  int
	fail  error
	gate  chan struct{} // when non-nil, ListComponents blocks until closed

	lists atomic.Int32
}

func newFakeBackend(items ...*model.Component) *fakeBackend {
	b := &fakeBackend{items: make(map[string]*model.Component)}
	for _, c := range items {
		b.items[c.ID] = c
	}
	return b
}

func (b *fakeBackend) err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fail
}

func (b *fakeBackend) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *fakeBackend) ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error) {
	b.lists.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if err := b.err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*model.Component
	for _, c := range b.items {
		if c.Kind == kind {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (b *fakeBackend) GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error) {
	if err := b.err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.items[id]
	if !ok || c.Kind != kind {
		return nil, &client.APIError{StatusCode: 404, Message: "not found"}
	}
	return clone(c), nil
}

func (b *fakeBackend) CreateComponent(ctx context.Context, kind model.Kind, req *client.CreateComponentRequest) (*model.Component, error) {
	if err := b.err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	c := &model.Component{
		ID:        fmt.Sprintf("%s%d", kind.IDPrefix(), b.next),
		Kind:      kind,
		Name:      req.Name,
		Position:  req.Position,
		Size:      req.Size,
		Fields:    req.Fields,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	b.items[c.ID] = c
	return clone(c), nil
}

func (b *fakeBackend) modify(kind model.Kind, id string, fn func(*model.Component)) (*model.Component, error) {
	if err := b.err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.items[id]
	if !ok || c.Kind != kind {
		return nil, &client.APIError{StatusCode: 404, Message: "not found"}
	}
	fn(c)
	c.UpdatedAt = c.UpdatedAt.Add(time.Second)
	return clone(c), nil
}

func (b *fakeBackend) UpdateComponent(ctx context.Context, kind model.Kind, id string, req *client.UpdateComponentRequest) (*model.Component, error) {
	return b.modify(kind, id, func(c *model.Component) {
		if req.Name != nil {
			c.Name = *req.Name
		}
		if req.Fields != nil {
			c.Fields, _ = model.MergeFields(c.Fields, req.Fields)
		}
	})
}

func (b *fakeBackend) UpdatePosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	return b.modify(kind, id, func(c *model.Component) { c.Position = pos })
}

func (b *fakeBackend) UpdateSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	return b.modify(kind, id, func(c *model.Component) { c.Size = size })
}

func (b *fakeBackend) DeleteComponent(ctx context.Context, kind model.Kind, id string) error {
	if err := b.err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.items[id]; !ok {
		return &client.APIError{StatusCode: 404, Message: "not found"}
	}
	delete(b.items, id)
	return nil
}

func mapComponent(id string) *model.Component {
	return &model.Component{
		ID:       id,
		Kind:     model.KindMaps,
		Name:     "Depot",
		Position: model.Position{X: 1, Y: 2},
		Size:     model.Size{Width: 300, Height: 200},
		Fields:   json.RawMessage(`{"zoom":4}`),
	}
}

func TestEnsureLoaded_ConcurrentCallersShareOneFetch(t *testing.T) {
	b := newFakeBackend(mapComponent("mp-1"), mapComponent("mp-2"))
	b.gate = make(chan struct{})
	r := New(model.KindMaps, b)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.EnsureLoaded(context.Background())
		}()
	}
	// Let every goroutine reach the singleflight before releasing the fetch.
	deadline := time.Now().Add(2 * time.Second)
	for b.lists.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(b.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("EnsureLoaded: %v", err)
		}
	}
	if n := b.lists.Load(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
	if r.Status() != StatusSucceeded {
		t.Fatalf("status = %s", r.Status())
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("expected 2 entities, got %d", got)
	}

	// Already loaded: no further fetch.
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := b.lists.Load(); n != 1 {
		t.Fatalf("expected still 1 fetch, got %d", n)
	}
}

func TestEnsureLoaded_FailureNotRetried(t *testing.T) {
	boom := errors.New("boom")
	b := newFakeBackend()
	b.setFail(boom)
	r := New(model.KindTexts, b)

	if err := r.EnsureLoaded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if r.Status() != StatusFailed {
		t.Fatalf("status = %s", r.Status())
	}
	b.setFail(nil)
	if err := r.EnsureLoaded(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected stored error, got %v", err)
	}
	if n := b.lists.Load(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}

	// An explicit FetchAll recovers.
	if err := r.FetchAll(context.Background()); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if r.Status() != StatusSucceeded || r.Err() != nil {
		t.Fatalf("status = %s err = %v", r.Status(), r.Err())
	}
}

func TestCreateThenFetchByID(t *testing.T) {
	b := newFakeBackend()
	r := New(model.KindTexts, b)

	id, err := r.Create(context.Background(), &client.CreateComponentRequest{
		Name:   "Notes",
		Size:   model.Size{Width: 200, Height: 100},
		Fields: json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if st, _ := r.Mutation(id); st != MutationCommitted {
		t.Fatalf("mutation = %s", st)
	}

	fresh := New(model.KindTexts, b)
	got, err := fresh.FetchByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if got.Name != "Notes" || got.Size.Width != 200 {
		t.Fatalf("unexpected component: %+v", got)
	}
	var text string
	if !got.Field("text", &text) || text != "hi" {
		t.Fatalf("text field = %q", text)
	}
	if _, ok := fresh.Get(id); !ok {
		t.Fatal("FetchByID did not store the entity")
	}
}

func TestUpdatePosition_OnlyPositionChanges(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := r.Get("m1")

	got, err := r.UpdatePosition(context.Background(), "m1", model.Position{X: 10, Y: 20})
	if err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if got.Position != (model.Position{X: 10, Y: 20}) {
		t.Fatalf("position = %+v", got.Position)
	}
	after, _ := r.Get("m1")
	if after.Name != before.Name || after.Size != before.Size || string(after.Fields) != string(before.Fields) {
		t.Fatalf("other fields changed: before %+v after %+v", before, after)
	}
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatal("UpdatedAt not advanced")
	}
	if st, _ := r.Mutation("m1"); st != MutationCommitted {
		t.Fatalf("mutation = %s", st)
	}
}

func TestUpdateSize_Failure_RevertsAndReports(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("disk full")
	b.setFail(boom)

	if _, err := r.UpdateSize(context.Background(), "m1", model.Size{Width: 1, Height: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := r.Get("m1")
	if got.Size != (model.Size{Width: 300, Height: 200}) {
		t.Fatalf("size not reverted: %+v", got.Size)
	}
	if st, _ := r.Mutation("m1"); st != MutationFailed {
		t.Fatalf("mutation = %s", st)
	}
	select {
	case f := <-r.Failures():
		if f.ID != "m1" || f.Op != "size" || !errors.Is(f.Err, boom) {
			t.Fatalf("unexpected failure: %+v", f)
		}
	default:
		t.Fatal("expected a failure report")
	}
}

func TestUpdate_ReplacesWithServerCopy(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	if _, err := r.FetchByID(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	name := "Warehouse"
	got, err := r.Update(context.Background(), "m1", &client.UpdateComponentRequest{
		Name:   &name,
		Fields: map[string]any{"zoom": nil, "center": []float64{1, 2}},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Name != "Warehouse" {
		t.Fatalf("name = %q", got.Name)
	}
	var zoom float64
	if got.Field("zoom", &zoom) {
		t.Fatal("zoom should have been removed")
	}
	var center []float64
	if !got.Field("center", &center) || len(center) != 2 {
		t.Fatalf("center = %v", center)
	}
}

func TestRemove(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(context.Background(), "m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := r.Get("m1"); ok {
		t.Fatal("entity still present")
	}
	if err := r.Remove(context.Background(), "m1"); !client.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFetchAll_SkipsPendingMutation(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	r.entities["m1"].Name = "local edit"
	r.mutations["m1"] = MutationPending
	r.mu.Unlock()

	if err := r.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get("m1")
	if got.Name != "local edit" {
		t.Fatalf("snapshot overwrote pending entity: %q", got.Name)
	}
}

func TestWatch(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	r := New(model.KindMaps, b)
	ctx, cancel := context.WithCancel(context.Background())
	ch := r.Watch(ctx)

	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if c.ID != "m1" || c.Removed {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change after load")
	}

	if err := r.Remove(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if !c.Removed {
			t.Fatalf("expected removal, got %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change after remove")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			// Drain anything left, then expect close.
			for range ch {
			}
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestSet_ForReturnsSameRegistry(t *testing.T) {
	s := NewSet(newFakeBackend())
	if s.For(model.KindChats) != s.For(model.KindChats) {
		t.Fatal("expected the same registry for a kind")
	}
	if s.For(model.KindChats) == s.For(model.KindGraphs) {
		t.Fatal("expected distinct registries per kind")
	}
	if s.For(model.KindGraphs).Kind() != model.KindGraphs {
		t.Fatal("wrong kind")
	}
}

func TestSet_LoadAll(t *testing.T) {
	b := newFakeBackend(mapComponent("m1"))
	s := NewSet(b)
	if err := s.LoadAll(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}
	for _, k := range model.Kinds() {
		if s.For(k).Status() != StatusSucceeded {
			t.Fatalf("%s not loaded", k)
		}
	}
	if _, ok := s.For(model.KindMaps).Get("m1"); !ok {
		t.Fatal("m1 missing")
	}
}

// heldBackend holds every UpdatePosition until the test answers it.
type heldBackend struct {
	*fakeBackend
	calls chan heldCall
}

type heldCall struct {
	pos   model.Position
	reply chan error
}

func (b *heldBackend) UpdatePosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	reply := make(chan error)
	b.calls <- heldCall{pos: pos, reply: reply}
	if err := <-reply; err != nil {
		return nil, err
	}
	return b.fakeBackend.UpdatePosition(ctx, kind, id, pos)
}

func loadedHeld(t *testing.T) (*Registry, *heldBackend) {
	t.Helper()
	b := &heldBackend{fakeBackend: newFakeBackend(mapComponent("m1")), calls: make(chan heldCall)}
	r := New(model.KindMaps, b)
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	return r, b
}

// moveAsync starts UpdatePosition and returns its held call and result.
func moveAsync(r *Registry, b *heldBackend, pos model.Position) (heldCall, <-chan error) {
	done := make(chan error, 1)
	go func() {
		_, err := r.UpdatePosition(context.Background(), "m1", pos)
		done <- err
	}()
	return <-b.calls, done
}

func position(t *testing.T, r *Registry) model.Position {
	t.Helper()
	c, ok := r.Get("m1")
	if !ok {
		t.Fatal("m1 missing")
	}
	return c.Position
}

func TestUpdatePosition_OverlappingOlderFailureKeepsNewer(t *testing.T) {
	r, b := loadedHeld(t)
	boom := errors.New("conflict")

	first, firstDone := moveAsync(r, b, model.Position{X: 10, Y: 10})
	second, secondDone := moveAsync(r, b, model.Position{X: 20, Y: 20})
	if got := position(t, r); got != (model.Position{X: 20, Y: 20}) {
		t.Fatalf("optimistic position = %+v", got)
	}

	first.reply <- boom
	if err := <-firstDone; !errors.Is(err, boom) {
		t.Fatalf("first = %v", err)
	}
	if got := position(t, r); got != (model.Position{X: 20, Y: 20}) {
		t.Fatalf("older failure reverted the newer move: %+v", got)
	}
	if st, _ := r.Mutation("m1"); st != MutationPending {
		t.Fatalf("mutation after older failure = %s, want pending", st)
	}

	second.reply <- nil
	if err := <-secondDone; err != nil {
		t.Fatalf("second = %v", err)
	}
	if got := position(t, r); got != (model.Position{X: 20, Y: 20}) {
		t.Fatalf("final position = %+v", got)
	}
	if st, _ := r.Mutation("m1"); st != MutationCommitted {
		t.Fatalf("mutation = %s, want committed", st)
	}
}

func TestUpdatePosition_OverlappingNewerFailureRevertsToServer(t *testing.T) {
	r, b := loadedHeld(t)
	boom := errors.New("conflict")

	first, firstDone := moveAsync(r, b, model.Position{X: 10, Y: 10})
	second, secondDone := moveAsync(r, b, model.Position{X: 20, Y: 20})

	second.reply <- boom
	if err := <-secondDone; !errors.Is(err, boom) {
		t.Fatalf("second = %v", err)
	}
	if got := position(t, r); got != (model.Position{X: 1, Y: 2}) {
		t.Fatalf("position after newest failed = %+v, want last accepted", got)
	}
	if st, _ := r.Mutation("m1"); st != MutationPending {
		t.Fatalf("mutation with a write still open = %s", st)
	}

	first.reply <- nil
	if err := <-firstDone; err != nil {
		t.Fatalf("first = %v", err)
	}
	if got := position(t, r); got != (model.Position{X: 10, Y: 10}) {
		t.Fatalf("position = %+v, want the older write the server accepted", got)
	}
	if st, _ := r.Mutation("m1"); st != MutationFailed {
		t.Fatalf("mutation = %s, want failed", st)
	}
}

func TestUpdatePosition_UnknownComponent(t *testing.T) {
	r := New(model.KindMaps, newFakeBackend())
	_, err := r.UpdatePosition(context.Background(), "mp-missing", model.Position{X: 1})
	if !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("err = %v, want ErrUnknownComponent", err)
	}
	if !client.IsNotFound(err) {
		t.Fatalf("backend error not kept: %v", err)
	}
	if _, ok := r.Get("mp-missing"); ok {
		t.Fatal("unknown component inserted")
	}
}
