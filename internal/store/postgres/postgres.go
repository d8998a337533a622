// Package postgres implements store.Store on PostgreSQL. Components of every
// kind share one table keyed by (kind, id); dashboard layouts live in a join
// table so a component can be placed on several dashboards.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// connectTimeout bounds how long New waits for the database to accept
// connections.
const connectTimeout = 30 * time.Second

// PostgresStore implements store.Store on a connection pool.
type PostgresStore struct {
	ops
	db *sql.DB
}

var _ store.Store = (*PostgresStore)(nil)

// New opens a pool on databaseURL, waits for the server to answer and
// applies pending migrations.
func New(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := waitForDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresStore{ops: ops{db}, db: db}, nil
}

// waitForDB pings until the server answers, which covers a database that
// starts alongside the panels server.
func waitForDB(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("database not ready", "err", err, "retry_in", wait)
		}),
	)
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateDashboard inserts the dashboard and its layout atomically.
func (s *PostgresStore) CreateDashboard(ctx context.Context, d *model.Dashboard) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CreateDashboard(ctx, d)
	})
}

// UpdateDashboard replaces the dashboard row and its layout atomically.
func (s *PostgresStore) UpdateDashboard(ctx context.Context, d *model.Dashboard) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.UpdateDashboard(ctx, d)
	})
}

// ModifyComponent runs fn against the row locked with SELECT ... FOR UPDATE.
func (s *PostgresStore) ModifyComponent(ctx context.Context, kind model.Kind, id string, fn func(c *model.Component) error) (*model.Component, error) {
	var out *model.Component
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		c, err := tx.ModifyComponent(ctx, kind, id, fn)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RunInTransaction calls fn with a store bound to one transaction, which is
// committed when fn returns nil and rolled back otherwise.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{ops: ops{tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the store handed to RunInTransaction callbacks.
type txStore struct {
	ops
}

var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateDashboard(ctx context.Context, d *model.Dashboard) error {
	if err := queryCreateDashboard(ctx, s.ex, d); err != nil {
		return err
	}
	return queryReplaceDashboardComponents(ctx, s.ex, d.ID, d.Components)
}

func (s *txStore) UpdateDashboard(ctx context.Context, d *model.Dashboard) error {
	if err := queryUpdateDashboard(ctx, s.ex, d); err != nil {
		return err
	}
	return queryReplaceDashboardComponents(ctx, s.ex, d.ID, d.Components)
}

func (s *txStore) ModifyComponent(ctx context.Context, kind model.Kind, id string, fn func(c *model.Component) error) (*model.Component, error) {
	c, err := queryGetComponentForUpdate(ctx, s.ex, kind, id)
	if err != nil {
		return nil, err
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := queryUpdateComponent(ctx, s.ex, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RunInTransaction reuses the open transaction.
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op; the parent store owns the pool.
func (s *txStore) Close() error { return nil }

// ops holds the single-statement operations shared by the pool and
// transaction stores.
type ops struct {
	ex executor
}

func (o ops) CreateComponent(ctx context.Context, c *model.Component) error {
	return queryCreateComponent(ctx, o.ex, c)
}

func (o ops) GetComponent(ctx context.Context, kind model.Kind, id string) (*model.Component, error) {
	return queryGetComponent(ctx, o.ex, kind, id)
}

func (o ops) ListComponents(ctx context.Context, kind model.Kind) ([]*model.Component, error) {
	return queryListComponents(ctx, o.ex, kind)
}

func (o ops) UpdateComponent(ctx context.Context, c *model.Component) error {
	return queryUpdateComponent(ctx, o.ex, c)
}

func (o ops) SetPosition(ctx context.Context, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	return querySetPosition(ctx, o.ex, kind, id, pos)
}

func (o ops) SetSize(ctx context.Context, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	return querySetSize(ctx, o.ex, kind, id, size)
}

func (o ops) DeleteComponent(ctx context.Context, kind model.Kind, id string) error {
	return queryDeleteComponent(ctx, o.ex, kind, id)
}

func (o ops) GetDashboard(ctx context.Context, id string) (*model.Dashboard, error) {
	return queryGetDashboard(ctx, o.ex, id)
}

func (o ops) GetDashboardByPath(ctx context.Context, path string) (*model.Dashboard, error) {
	return queryGetDashboardByPath(ctx, o.ex, path)
}

func (o ops) ListDashboards(ctx context.Context, owner string) ([]*model.Dashboard, error) {
	return queryListDashboards(ctx, o.ex, owner)
}

func (o ops) DeleteDashboard(ctx context.Context, id string) error {
	return queryDeleteDashboard(ctx, o.ex, id)
}

func (o ops) AttachComponent(ctx context.Context, dashboardID string, dc model.DashboardComponent) error {
	return queryAttachComponent(ctx, o.ex, dashboardID, dc)
}

func (o ops) DetachComponent(ctx context.Context, dashboardID, componentID string) error {
	return queryDetachComponent(ctx, o.ex, dashboardID, componentID)
}

func (o ops) DetachEverywhere(ctx context.Context, componentID string) error {
	return queryDetachEverywhere(ctx, o.ex, componentID)
}

func (o ops) CreateUser(ctx context.Context, u *model.User) error {
	return queryCreateUser(ctx, o.ex, u)
}

func (o ops) GetUser(ctx context.Context, id string) (*model.User, error) {
	return queryGetUser(ctx, o.ex, "id", id)
}

func (o ops) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return queryGetUser(ctx, o.ex, "email", email)
}
