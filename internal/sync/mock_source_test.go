package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/alfredjeanlab/panels/internal/model"
)

// mockSource is a minimal in-memory Source for sync tests.
type mockSource struct {
	mu         sync.Mutex
	components map[model.Kind][]*model.Component
	dashboards []*model.Dashboard
	err        error
}

func newMockSource() *mockSource {
	return &mockSource{components: make(map[model.Kind][]*model.Component)}
}

func (m *mockSource) addComponent(c *model.Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[c.Kind] = append(m.components[c.Kind], c)
}

func (m *mockSource) ListComponents(_ context.Context, kind model.Kind) ([]*model.Component, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]*model.Component(nil), m.components[kind]...), nil
}

func (m *mockSource) ListDashboards(_ context.Context, owner string) ([]*model.Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if owner != "" {
		return nil, errors.New("export must list every owner")
	}
	return append([]*model.Dashboard(nil), m.dashboards...), nil
}
