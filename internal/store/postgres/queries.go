package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/panels/internal/model"
	"github.com/alfredjeanlab/panels/internal/store"
)

// componentColumns is the column list used for SELECT statements on the components table.
const componentColumns = `id, kind, name, pos_x, pos_y, width, height, fields,
	created_by, created_at, updated_at`

const dashboardColumns = `id, name, path, owner, created_at, updated_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError translates driver errors into the store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", store.ErrConflict, pqErr.Constraint)
	}
	return err
}

// requireAffected returns store.ErrNotFound when res touched no rows.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryCreateComponent(ctx context.Context, db executor, c *model.Component) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO components (
			id, kind, name, pos_x, pos_y, width, height, fields,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID,
		string(c.Kind),
		c.Name,
		c.Position.X,
		c.Position.Y,
		c.Size.Width,
		c.Size.Height,
		jsonbBytes(c.Fields),
		nullString(c.CreatedBy),
		c.CreatedAt,
		c.UpdatedAt,
	)
	return mapError(err)
}

func queryGetComponent(ctx context.Context, db executor, kind model.Kind, id string) (*model.Component, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE kind = $1 AND id = $2`,
		string(kind), id)
	c, err := scanComponent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

// queryGetComponentForUpdate locks the row until the surrounding transaction
// ends.
func queryGetComponentForUpdate(ctx context.Context, db executor, kind model.Kind, id string) (*model.Component, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE kind = $1 AND id = $2 FOR UPDATE`,
		string(kind), id)
	c, err := scanComponent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func queryListComponents(ctx context.Context, db executor, kind model.Kind) ([]*model.Component, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+componentColumns+` FROM components WHERE kind = $1 ORDER BY created_at, id`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return collect(rows, "component", scanComponent)
}

func queryUpdateComponent(ctx context.Context, db executor, c *model.Component) error {
	err := db.QueryRowContext(ctx, `
		UPDATE components SET
			name = $3,
			pos_x = $4,
			pos_y = $5,
			width = $6,
			height = $7,
			fields = $8,
			updated_at = NOW()
		WHERE kind = $1 AND id = $2
		RETURNING created_at, updated_at`,
		string(c.Kind),
		c.ID,
		c.Name,
		c.Position.X,
		c.Position.Y,
		c.Size.Width,
		c.Size.Height,
		jsonbBytes(c.Fields),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapError(err)
}

func querySetPosition(ctx context.Context, db executor, kind model.Kind, id string, pos model.Position) (*model.Component, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE components SET pos_x = $3, pos_y = $4, updated_at = NOW()
		WHERE kind = $1 AND id = $2
		RETURNING `+componentColumns,
		string(kind), id, pos.X, pos.Y)
	c, err := scanComponent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func querySetSize(ctx context.Context, db executor, kind model.Kind, id string, size model.Size) (*model.Component, error) {
	row := db.QueryRowContext(ctx, `
		UPDATE components SET width = $3, height = $4, updated_at = NOW()
		WHERE kind = $1 AND id = $2
		RETURNING `+componentColumns,
		string(kind), id, size.Width, size.Height)
	c, err := scanComponent(row)
	if err != nil {
		return nil, mapError(err)
	}
	return c, nil
}

func queryDeleteComponent(ctx context.Context, db executor, kind model.Kind, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM components WHERE kind = $1 AND id = $2`, string(kind), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func queryCreateDashboard(ctx context.Context, db executor, d *model.Dashboard) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO dashboards (id, name, path, owner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.Name, d.Path, nullString(d.Owner), d.CreatedAt, d.UpdatedAt,
	)
	return mapError(err)
}

func queryUpdateDashboard(ctx context.Context, db executor, d *model.Dashboard) error {
	var owner sql.NullString
	err := db.QueryRowContext(ctx, `
		UPDATE dashboards SET name = $2, path = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING owner, created_at, updated_at`,
		d.ID, d.Name, d.Path,
	).Scan(&owner, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	d.Owner = owner.String
	return nil
}

// queryReplaceDashboardComponents rewrites the ordered component list of a
// dashboard. Callers run it inside a transaction.
func queryReplaceDashboardComponents(ctx context.Context, db executor, dashboardID string, comps []model.DashboardComponent) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM dashboard_components WHERE dashboard_id = $1`, dashboardID); err != nil {
		return fmt.Errorf("clear dashboard components: %w", err)
	}
	for i, dc := range comps {
		_, err := db.ExecContext(ctx, `
			INSERT INTO dashboard_components (dashboard_id, component_id, type, position)
			VALUES ($1, $2, $3, $4)`,
			dashboardID, dc.ComponentID, string(dc.Type), i,
		)
		if err != nil {
			return fmt.Errorf("insert dashboard component: %w", mapError(err))
		}
	}
	return nil
}

func queryGetDashboard(ctx context.Context, db executor, id string) (*model.Dashboard, error) {
	row := db.QueryRowContext(ctx, `SELECT `+dashboardColumns+` FROM dashboards WHERE id = $1`, id)
	return getDashboard(ctx, db, row)
}

func queryGetDashboardByPath(ctx context.Context, db executor, path string) (*model.Dashboard, error) {
	row := db.QueryRowContext(ctx, `SELECT `+dashboardColumns+` FROM dashboards WHERE path = $1`, path)
	return getDashboard(ctx, db, row)
}

func getDashboard(ctx context.Context, db executor, row *sql.Row) (*model.Dashboard, error) {
	d, err := scanDashboard(row)
	if err != nil {
		return nil, mapError(err)
	}
	byID, err := queryDashboardComponents(ctx, db, []string{d.ID})
	if err != nil {
		return nil, err
	}
	d.Components = byID[d.ID]
	if d.Components == nil {
		d.Components = []model.DashboardComponent{}
	}
	return d, nil
}

func queryListDashboards(ctx context.Context, db executor, owner string) ([]*model.Dashboard, error) {
	q := `SELECT ` + dashboardColumns + ` FROM dashboards`
	var args []any
	if owner != "" {
		q += ` WHERE owner = $1`
		args = append(args, owner)
	}
	q += ` ORDER BY path`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	out, err := collect(rows, "dashboard", scanDashboard)
	if err != nil || len(out) == 0 {
		return out, err
	}
	ids := make([]string, len(out))
	for i, d := range out {
		ids[i] = d.ID
	}

	byID, err := queryDashboardComponents(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range out {
		d.Components = byID[d.ID]
		if d.Components == nil {
			d.Components = []model.DashboardComponent{}
		}
	}
	return out, nil
}

func queryDashboardComponents(ctx context.Context, db executor, dashboardIDs []string) (map[string][]model.DashboardComponent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT dashboard_id, component_id, type FROM dashboard_components
		WHERE dashboard_id = ANY($1)
		ORDER BY dashboard_id, position`,
		pq.Array(dashboardIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("list dashboard components: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.DashboardComponent, len(dashboardIDs))
	for rows.Next() {
		var (
			dashboardID string
			dc          model.DashboardComponent
		)
		if err := rows.Scan(&dashboardID, &dc.ComponentID, &dc.Type); err != nil {
			return nil, fmt.Errorf("scan dashboard component: %w", err)
		}
		out[dashboardID] = append(out[dashboardID], dc)
	}
	return out, rows.Err()
}

func queryDeleteDashboard(ctx context.Context, db executor, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func queryAttachComponent(ctx context.Context, db executor, dashboardID string, dc model.DashboardComponent) error {
	res, err := db.ExecContext(ctx, `UPDATE dashboards SET updated_at = NOW() WHERE id = $1`, dashboardID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO dashboard_components (dashboard_id, component_id, type, position)
		SELECT $1, $2, $3, COALESCE(MAX(position) + 1, 0)
		FROM dashboard_components WHERE dashboard_id = $1
		ON CONFLICT (dashboard_id, component_id) DO NOTHING`,
		dashboardID, dc.ComponentID, string(dc.Type),
	)
	return mapError(err)
}

func queryDetachComponent(ctx context.Context, db executor, dashboardID, componentID string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM dashboard_components WHERE dashboard_id = $1 AND component_id = $2`,
		dashboardID, componentID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func queryDetachEverywhere(ctx context.Context, db executor, componentID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM dashboard_components WHERE component_id = $1`, componentID)
	return err
}

func queryCreateUser(ctx context.Context, db executor, u *model.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, nullString(u.Name), u.PasswordHash, u.CreatedAt,
	)
	return mapError(err)
}

// queryGetUser looks a user up by the given column, which must be "id" or "email".
func queryGetUser(ctx context.Context, db executor, column, value string) (*model.User, error) {
	if column != "id" && column != "email" {
		return nil, fmt.Errorf("get user: unsupported column %q", column)
	}
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT id, email, name, password_hash, created_at FROM users WHERE `+column+` = $1`, value))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}
