package server

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/panels/internal/events"
	"github.com/alfredjeanlab/panels/internal/idgen"
	"github.com/alfredjeanlab/panels/internal/model"
)

// dashboardInput holds the body of POST and PUT /api/dashboards.
type dashboardInput struct {
	Name       *string                    `json:"name,omitempty" validate:"omitnil,max=200"`
	Path       *string                    `json:"path,omitempty" validate:"omitnil,startswith=/"`
	Components *[]model.DashboardComponent `json:"components,omitempty"`
}

type attachInput struct {
	ComponentID string     `json:"componentID" validate:"required"`
	Type        model.Kind `json:"type" validate:"required"`
}

func (s *PanelsServer) createDashboard(ctx context.Context, in dashboardInput, owner string) (*model.Dashboard, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	id, err := idgen.Dashboard()
	if err != nil {
		return nil, fmt.Errorf("failed to generate ID: %w", err)
	}
	now := time.Now().UTC()
	d := &model.Dashboard{
		ID:         id,
		Owner:      owner,
		Components: []model.DashboardComponent{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.Path != nil {
		d.Path = *in.Path
	}
	if in.Components != nil {
		d.Components = *in.Components
	}

	if err := model.ValidateDashboard(d); err != nil {
		return nil, inputError("invalid dashboard: " + err.Error())
	}
	if err := s.store.CreateDashboard(ctx, d); err != nil {
		return nil, err
	}

	s.recordAndPublish(ctx, events.TopicDashboardCreated, events.DashboardCreated{Dashboard: d})
	return d, nil
}

func (s *PanelsServer) updateDashboard(ctx context.Context, id string, in dashboardInput) (*model.Dashboard, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	d, err := s.store.GetDashboard(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.Path != nil {
		d.Path = *in.Path
	}
	if in.Components != nil {
		d.Components = *in.Components
	}
	if err := model.ValidateDashboard(d); err != nil {
		return nil, inputError("invalid dashboard: " + err.Error())
	}

	d.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateDashboard(ctx, d); err != nil {
		return nil, err
	}

	s.recordAndPublish(ctx, events.TopicDashboardUpdated, events.DashboardUpdated{Dashboard: d})
	return d, nil
}

func (s *PanelsServer) deleteDashboard(ctx context.Context, id string) error {
	if err := s.store.DeleteDashboard(ctx, id); err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicDashboardDeleted, events.DashboardDeleted{ID: id})
	return nil
}

// attachComponent places an existing component on a dashboard. Attaching a
// component twice is a no-op.
func (s *PanelsServer) attachComponent(ctx context.Context, dashboardID string, in attachInput) (*model.Dashboard, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if !in.Type.IsValid() {
		return nil, inputError(fmt.Sprintf("invalid component type %q", in.Type))
	}
	// The component must exist under the claimed kind.
	if _, err := s.store.GetComponent(ctx, in.Type, in.ComponentID); err != nil {
		return nil, err
	}

	dc := model.DashboardComponent{ComponentID: in.ComponentID, Type: in.Type}
	if err := s.store.AttachComponent(ctx, dashboardID, dc); err != nil {
		return nil, err
	}
	s.recordAndPublish(ctx, events.TopicComponentAttached, events.ComponentAttached{DashboardID: dashboardID, Component: dc})

	return s.store.GetDashboard(ctx, dashboardID)
}

func (s *PanelsServer) detachComponent(ctx context.Context, dashboardID, componentID string) error {
	if err := s.store.DetachComponent(ctx, dashboardID, componentID); err != nil {
		return err
	}
	s.recordAndPublish(ctx, events.TopicComponentDetached, events.ComponentDetached{DashboardID: dashboardID, ComponentID: componentID})
	return nil
}
