package server

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

// mockStore is an in-memory store.Store for handler tests.
type mockStore struct {
	mu         sync.Mutex
	components map[model.Kind]map[string]*model.Component
	dashboards map[string]*model.Dashboard
	users      map[string]*model.User

	// detachErr, when non-nil, is returned by DetachEverywhere.
	detachErr error
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		components: make(map[model.Kind]map[string]*model.Component),
		dashboards: make(map[string]*model.Dashboard),
		users:      make(map[string]*model.User),
	}
}

func (m *mockStore) put(c *model.Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(c)
}

func (m *mockStore) putLocked(c *model.Component) {
	byID, ok := m.components[c.Kind]
	if !ok {
		byID = make(map[string]*model.Component)
		m.components[c.Kind] = byID
	}
	clone := *c
	byID[c.ID] = &clone
}

func (m *mockStore) getLocked(kind model.Kind, id string) (*model.Component, error) {
	c, ok := m.components[kind][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (m *mockStore) CreateComponent(_ context.Context, c *model.Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[c.Kind][c.ID]; ok {
		return store.ErrConflict
	}
	m.putLocked(c)
	return nil
}

func (m *mockStore) GetComponent(_ context.Context, kind model.Kind, id string) (*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(kind, id)
}

func (m *mockStore) ListComponents(_ context.Context, kind model.Kind) ([]*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Component
	for _, c := range m.components[kind] {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) UpdateComponent(_ context.Context, c *model.Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.getLocked(c.Kind, c.ID); err != nil {
		return err
	}
	m.putLocked(c)
	return nil
}

func (m *mockStore) ModifyComponent(_ context.Context, kind model.Kind, id string, fn func(c *model.Component) error) (*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.getLocked(kind, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	m.putLocked(c)
	return c, nil
}

func (m *mockStore) SetPosition(_ context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.getLocked(kind, id)
	if err != nil {
		return nil, err
	}
	c.Position = pos
	m.putLocked(c)
	return c, nil
}

func (m *mockStore) SetSize(_ context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.getLocked(kind, id)
	if err != nil {
		return nil, err
	}
	c.Size = size
	m.putLocked(c)
	return c, nil
}

func (m *mockStore) DeleteComponent(_ context.Context, kind model.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[kind][id]; !ok {
		return store.ErrNotFound
	}
	delete(m.components[kind], id)
	return nil
}

func cloneDashboard(d *model.Dashboard) *model.Dashboard {
	clone := *d
	clone.Components = slices.Clone(d.Components)
	if clone.Components == nil {
		clone.Components = []model.DashboardComponent{}
	}
	return &clone
}

func (m *mockStore) pathTakenLocked(path, except string) bool {
	for _, d := range m.dashboards {
		if d.Path == path && d.ID != except {
			return true
		}
	}
	return false
}

func (m *mockStore) CreateDashboard(_ context.Context, d *model.Dashboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[d.ID]; ok || m.pathTakenLocked(d.Path, "") {
		return store.ErrConflict
	}
	m.dashboards[d.ID] = cloneDashboard(d)
	return nil
}

func (m *mockStore) GetDashboard(_ context.Context, id string) (*model.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDashboard(d), nil
}

func (m *mockStore) GetDashboardByPath(_ context.Context, path string) (*model.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dashboards {
		if d.Path == path {
			return cloneDashboard(d), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListDashboards(_ context.Context, owner string) ([]*model.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Dashboard
	for _, d := range m.dashboards {
		if owner == "" || d.Owner == owner {
			out = append(out, cloneDashboard(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *mockStore) UpdateDashboard(_ context.Context, d *model.Dashboard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[d.ID]; !ok {
		return store.ErrNotFound
	}
	if m.pathTakenLocked(d.Path, d.ID) {
		return store.ErrConflict
	}
	m.dashboards[d.ID] = cloneDashboard(d)
	return nil
}

func (m *mockStore) DeleteDashboard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dashboards[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.dashboards, id)
	return nil
}

func (m *mockStore) AttachComponent(_ context.Context, dashboardID string, dc model.DashboardComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[dashboardID]
	if !ok {
		return store.ErrNotFound
	}
	if !d.HasComponent(dc.ComponentID) {
		d.Components = append(d.Components, dc)
	}
	return nil
}

func (m *mockStore) DetachComponent(_ context.Context, dashboardID, componentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dashboards[dashboardID]
	if !ok || !d.HasComponent(componentID) {
		return store.ErrNotFound
	}
	d.Components = slices.DeleteFunc(d.Components, func(dc model.DashboardComponent) bool {
		return dc.ComponentID == componentID
	})
	return nil
}

func (m *mockStore) DetachEverywhere(_ context.Context, componentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detachErr != nil {
		return m.detachErr
	}
	for _, d := range m.dashboards {
		d.Components = slices.DeleteFunc(d.Components, func(dc model.DashboardComponent) bool {
			return dc.ComponentID == componentID
		})
	}
	return nil
}

func (m *mockStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrConflict
		}
	}
	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *mockStore) Close() error { return nil }
