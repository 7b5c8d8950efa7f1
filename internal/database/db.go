package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DB wraps *sql.DB with the driver name so repositories can write
// PostgreSQL-form queries and stay portable across drivers.
type DB struct {
	*sql.DB
	driver string
}

// Wrap pairs an open connection with its driver name.
func Wrap(db *sql.DB, driver string) *DB {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "" {
		driver = "postgres"
	}
	return &DB{DB: db, driver: driver}
}

// Driver returns the normalized driver name.
func (d *DB) Driver() string {
	return d.driver
}

// Rebind converts $N placeholders for the active driver.
func (d *DB) Rebind(query string) string {
	return ConvertPlaceholders(query, d.driver)
}

// InsertReturningID executes an INSERT and returns the new row id. The
// query must not carry a RETURNING clause; it is added where supported.
func (d *DB) InsertReturningID(ctx context.Context, query string, args ...any) (int, error) {
	switch d.driver {
	case "mysql", "mariadb":
		res, err := d.ExecContext(ctx, d.Rebind(query), args...)
		if err != nil {
			return 0, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read insert id: %w", err)
		}
		return int(id), nil
	default:
		var id int
		err := d.QueryRowContext(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return 0, err
		}
		return id, nil
	}
}
