package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/panels/internal/model"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a unique key
	// (a dashboard path or user email already in use).
	ErrConflict = errors.New("already exists")
)

// Store defines the persistence interface for components, dashboards and users.
type Store interface {
	// Components
	CreateComponent(ctx context.Context, c *model.Component) error
	GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error)
	ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error)
	UpdateComponent(ctx context.Context, c *model.Component) error
	// ModifyComponent reads the component, applies fn and writes the result
	// back with no concurrent write landing in between. An error from fn
	// aborts the write and is returned as is.
	ModifyComponent(ctx context.Context, kind model.Kind, id string, fn func(c *model.Component) error) (*model.Component, error)
	SetPosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error)
	SetSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error)
	DeleteComponent(ctx context.Context, kind model.Kind, id string) error

	// Dashboards
	CreateDashboard(ctx context.Context, d *model.Dashboard) error
	GetDashboard(ctx context.Context, id string) (*model.Dashboard, error)
	GetDashboardByPath(ctx context.Context, path string) (*model.Dashboard, error)
	ListDashboards(ctx context.Context, owner string) ([]*model.Dashboard, error) // owner "" lists all
	UpdateDashboard(ctx context.Context, d *model.Dashboard) error
	DeleteDashboard(ctx context.Context, id string) error
	AttachComponent(ctx context.Context, dashboardID string, dc model.DashboardComponent) error
	DetachComponent(ctx context.Context, dashboardID, componentID string) error
	DetachEverywhere(ctx context.Context, componentID string) error

	// Users
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
