// Package client provides a transport-agnostic interface for the panels
// service, an HTTP/JSON implementation that talks to the REST API and a gRPC
// publisher for live frames.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/presence"
)

// Client is the interface that pd commands and the component registry use to
// talk to a panels server. It is implemented by HTTPClient.
type Client interface {
	// Components
	ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error)
	Types(ctx context.Context) ([]model.KindSchema, error)
	GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error)
	CreateComponent(ctx context.Context, kind model.Kind, req *CreateComponentRequest) (*model.Component, error)
	UpdateComponent(ctx context.Context, kind model.Kind, id string, req *UpdateComponentRequest) (*model.Component, error)
	UpdatePosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error)
	UpdateSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error)
	DeleteComponent(ctx context.Context, kind model.Kind, id string) error

	// Map icons
	AddMapIcon(ctx context.Context, mapID string, icon model.MapIcon) (*model.Component, error)
	RemoveMapIcon(ctx context.Context, mapID, iconID string) (*model.Component, error)

	// Dashboards
	ListDashboards(ctx context.Context, mine bool) ([]*model.Dashboard, error)
	GetDashboard(ctx context.Context, id string) (*model.Dashboard, error)
	GetDashboardByPath(ctx context.Context, path string) (*model.Dashboard, error)
	CreateDashboard(ctx context.Context, req *DashboardRequest) (*model.Dashboard, error)
	UpdateDashboard(ctx context.Context, id string, req *DashboardRequest) (*model.Dashboard, error)
	DeleteDashboard(ctx context.Context, id string) error
	AttachComponent(ctx context.Context, dashboardID string, kind model.Kind, componentID string) (*model.Dashboard, error)
	DetachComponent(ctx context.Context, dashboardID, componentID string) error

	// Auth
	Register(ctx context.Context, req *Credentials) (*Session, error)
	SignIn(ctx context.Context, req *Credentials) (*Session, error)
	SignOut(ctx context.Context) error
	ValidateToken(ctx context.Context) (*TokenInfo, error)

	// Live
	LiveSenders(ctx context.Context, t model.LiveType) ([]string, error)
	LiveHistory(ctx context.Context, t model.LiveType, sender string) ([]model.LiveEvent, error)
	ClearLive(ctx context.Context, t model.LiveType) error
	Presence(ctx context.Context, stale time.Duration, target string) (*PresenceResponse, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// CreateComponentRequest holds parameters for creating a component.
type CreateComponentRequest struct {
	Name     string          `json:"name,omitempty"`
	Position model.Position  `json:"position"`
	Size     model.Size      `json:"size"`
	Fields   json.RawMessage `json:"fields,omitempty"`
}

// UpdateComponentRequest holds optional parameters for updating a component.
// Nil pointer fields mean "don't change"; a nil value inside Fields removes
// that key.
type UpdateComponentRequest struct {
	Name     *string         `json:"name,omitempty"`
	Position *model.Position `json:"position,omitempty"`
	Size     *model.Size     `json:"size,omitempty"`
	Fields   map[string]any  `json:"fields,omitempty"`
}

// DashboardRequest holds parameters for creating or updating a dashboard.
type DashboardRequest struct {
	Name       *string                     `json:"name,omitempty"`
	Path       *string                     `json:"path,omitempty"`
	Components *[]model.DashboardComponent `json:"components,omitempty"`
}

// Credentials are sent to register and sign in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// Session is returned by Register and SignIn.
type Session struct {
	User      *model.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// TokenInfo is the response from ValidateToken.
type TokenInfo struct {
	Valid   bool   `json:"valid"`
	Service bool   `json:"service,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Email   string `json:"email,omitempty"`
}

// PresenceResponse is the response from Presence.
type PresenceResponse struct {
	Sockets int              `json:"sockets"`
	Senders []presence.Entry `json:"senders"`
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
