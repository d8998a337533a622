package events

import (
	"context"

	"github.com/alfredjeanlab/panels/internal/model"
)

// Event topic constants
const (
	TopicComponentCreated = "panels.component.created"
	TopicComponentUpdated = "panels.component.updated"
	TopicComponentDeleted = "panels.component.deleted"

	TopicDashboardCreated  = "panels.dashboard.created"
	TopicDashboardUpdated  = "panels.dashboard.updated"
	TopicDashboardDeleted  = "panels.dashboard.deleted"
	TopicComponentAttached = "panels.dashboard.attached"
	TopicComponentDetached = "panels.dashboard.detached"

	// Live frames are relayed between server instances on panels.live.{type}.
	TopicLivePrefix = "panels.live."
	TopicLiveAll    = "panels.live.>"
)

// LiveTopic returns the relay subject for a live event type.
func LiveTopic(t model.LiveType) string {
	return TopicLivePrefix + string(t)
}

// Event types

type ComponentCreated struct {
	Component *model.Component `json:"component"`
}

type ComponentUpdated struct {
	Component *model.Component `json:"component"`
	Changes   map[string]any   `json:"changes,omitempty"` // field name -> new value
}

type ComponentDeleted struct {
	Kind model.Kind `json:"type"`
	ID   string     `json:"id"`
}

type DashboardCreated struct {
	Dashboard *model.Dashboard `json:"dashboard"`
}

type DashboardUpdated struct {
	Dashboard *model.Dashboard `json:"dashboard"`
}

type DashboardDeleted struct {
	ID string `json:"id"`
}

type ComponentAttached struct {
	DashboardID string                   `json:"dashboard_id"`
	Component   model.DashboardComponent `json:"component"`
}

type ComponentDetached struct {
	DashboardID string `json:"dashboard_id"`
	ComponentID string `json:"component_id"`
}

// LiveRelayed wraps a live frame published for other server instances.
// Origin is the publishing instance; receivers skip their own frames.
type LiveRelayed struct {
	Origin string          `json:"origin"`
	Event  model.LiveEvent `json:"event"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
