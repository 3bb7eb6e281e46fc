package session

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteDriver runs the SQL store on an embedded SQLite database. The
// store's `?` placeholders are SQLite's native form, so Rebind is a
// pass-through.
type sqliteDriver struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database file. Use ":memory:"
// for an ephemeral database.
func OpenSQLite(path string) (Driver, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The sqlite driver does not support concurrent writers on one
	// connection pool.
	db.SetMaxOpenConns(1)
	return &sqliteDriver{db: db}, nil
}

// NewSQLiteDriver wraps an already open connection, for tests.
func NewSQLiteDriver(db *sql.DB) Driver {
	return &sqliteDriver{db: db}
}

func (d *sqliteDriver) Name() string              { return "sqlite" }
func (d *sqliteDriver) DB() *sql.DB               { return d.db }
func (d *sqliteDriver) Rebind(query string) string { return query }
func (d *sqliteDriver) Close() error              { return d.db.Close() }
