package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/panels/internal/model"
)

// row is *sql.Row or *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

// collect scans every remaining row with scan and closes rows. what names
// the entity in errors.
func collect[T any](rows *sql.Rows, what string, scan func(row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// scanComponent reads the columns listed in componentColumns.
func scanComponent(r row) (*model.Component, error) {
	var (
		c         model.Component
		createdBy sql.NullString
		fields    []byte
	)
	if err := r.Scan(
		&c.ID, &c.Kind, &c.Name,
		&c.Position.X, &c.Position.Y,
		&c.Size.Width, &c.Size.Height,
		&fields, &createdBy,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.CreatedBy = createdBy.String
	if len(fields) > 0 {
		c.Fields = json.RawMessage(fields)
	}
	return &c, nil
}

// scanDashboard reads dashboardColumns. Layouts come from a second query.
func scanDashboard(r row) (*model.Dashboard, error) {
	var (
		d     model.Dashboard
		owner sql.NullString
	)
	if err := r.Scan(&d.ID, &d.Name, &d.Path, &owner, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Owner = owner.String
	return &d, nil
}

func scanUser(r row) (*model.User, error) {
	var (
		u    model.User
		name sql.NullString
	)
	if err := r.Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Name = name.String
	return &u, nil
}

// nullString stores "" as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// jsonbBytes stores an empty message as NULL.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return m
}
