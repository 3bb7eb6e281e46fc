package session

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// postgresDriver runs the SQL store on PostgreSQL (or anything speaking
// its wire protocol, such as CockroachDB). The store's `?` placeholders
// are rewritten to $1..$n.
type postgresDriver struct {
	db *sql.DB
}

// OpenPostgres connects with the given DSN and verifies the connection.
func OpenPostgres(dsn string) (Driver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresDriver{db: db}, nil
}

// NewPostgresDriver wraps an already open connection, for tests.
func NewPostgresDriver(db *sql.DB) Driver {
	return &postgresDriver{db: db}
}

func (d *postgresDriver) Name() string { return "postgres" }
func (d *postgresDriver) DB() *sql.DB  { return d.db }

func (d *postgresDriver) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *postgresDriver) Close() error { return d.db.Close() }
