package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// Driver adapts a database/sql backend to the SQL store: it owns the
// connection and rewrites the store's `?` placeholders into whatever the
// backend expects.
type Driver interface {
	Name() string
	DB() *sql.DB
	Rebind(query string) string
	Close() error
}

// tableNameRe bounds table names to identifier characters; interpolating
// anything else into DDL would be an injection vector.
var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore persists snapshots in a single table: id, snapshot JSON, and
// an updated_at used for MRU listing.
type SQLStore struct {
	extrasTracker
	driver Driver
	table  string
}

// NewSQLStore creates the backing table if needed and returns the store.
// The table name must be a plain identifier.
func NewSQLStore(ctx context.Context, driver Driver, table string) (*SQLStore, error) {
	if table == "" {
		table = "sessions"
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLStore{driver: driver, table: table}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		snapshot TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`, table)
	if err := s.execute(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *SQLStore) Close() error {
	return s.driver.Close()
}

func (s *SQLStore) execute(ctx context.Context, query string, args ...any) error {
	_, err := s.driver.DB().ExecContext(ctx, s.driver.Rebind(query), args...)
	return err
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) *sql.Row {
	return s.driver.DB().QueryRowContext(ctx, s.driver.Rebind(query), args...)
}

func (s *SQLStore) queryAll(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.driver.DB().QueryContext(ctx, s.driver.Rebind(query), args...)
}

func (s *SQLStore) Save(ctx context.Context, sess *models.Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`, s.table)
	if err := s.execute(ctx, query, sess.ID, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id string) (*models.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE id = ?`, s.table)
	var data string
	err := s.queryOne(ctx, query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return s.decode(id, []byte(data))
}

func (s *SQLStore) List(ctx context.Context, limit, offset int) ([]ListEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT id, snapshot, updated_at FROM %s
		ORDER BY updated_at DESC LIMIT ? OFFSET ?`, s.table)
	rows, err := s.queryAll(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var (
			id        string
			data      string
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		snap, err := DecodeSnapshot(id, []byte(data))
		if err != nil {
			return nil, err
		}
		entries = append(entries, ListEntry{
			ID:        id,
			ModelID:   snap.Session.ModelID,
			Mode:      string(snap.Session.Mode),
			UpdatedAt: updatedAt,
		})
	}
	return entries, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.table)
	res, err := s.driver.DB().ExecContext(ctx, s.driver.Rebind(query), id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.forget(id)
	return nil
}
