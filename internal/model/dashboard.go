package model

import "time"

// Dashboard is a named page that places component instances.
type Dashboard struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Path       string               `json:"path"`
	Owner      string               `json:"owner,omitempty"`
	Components []DashboardComponent `json:"components"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// DashboardComponent references a component placed on a dashboard.
type DashboardComponent struct {
	ComponentID string `json:"componentID"`
	Type        Kind   `json:"type"`
}

// HasComponent reports whether the dashboard already references id.
func (d *Dashboard) HasComponent(id string) bool {
	for _, c := range d.Components {
		if c.ComponentID == id {
			return true
		}
	}
	return false
}
