package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// SQLStore is a SQL-backed room store.
// It works with any database/sql compatible driver (PostgreSQL, MySQL, SQLite).
// Times are stored as Unix nanoseconds. Requires a table with schema:
//
//	CREATE TABLE relay_rooms (
//	    id VARCHAR(255) PRIMARY KEY,
//	    state BYTEA NOT NULL,
//	    last_activity BIGINT NOT NULL,
//	    persisted_at BIGINT NOT NULL
//	);
type SQLStore struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
	now       func() time.Time
	closed    atomic.Bool
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite
)

// ParseSQLDialect maps a dialect name to a SQLDialect.
func ParseSQLDialect(name string) (SQLDialect, error) {
	switch name {
	case "postgres", "postgresql", "pgx":
		return DialectPostgreSQL, nil
	case "mysql":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return 0, fmt.Errorf("session: unknown sql dialect %q", name)
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName string
	dialect   SQLDialect
}

// WithSQLTableName sets the table name for room storage.
// Default: "relay_rooms".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// NewSQLStore creates a new SQL-backed room store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName: "relay_rooms",
		dialect:   DialectPostgreSQL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &SQLStore{
		db:        db,
		tableName: cfg.tableName,
		dialect:   cfg.dialect,
		now:       time.Now,
	}
}

// placeholder returns the placeholder syntax for the dialect.
func (s *SQLStore) placeholder(n int) string {
	switch s.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// Save upserts the room's state.
func (s *SQLStore) Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, state, last_activity, persisted_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				last_activity = EXCLUDED.last_activity,
				persisted_at = EXCLUDED.persisted_at
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			INSERT INTO %s (id, state, last_activity, persisted_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				state = VALUES(state),
				last_activity = VALUES(last_activity),
				persisted_at = VALUES(persisted_at)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, state, last_activity, persisted_at)
			VALUES (?, ?, ?, ?)
		`, s.tableName)
	}

	if state == nil {
		state = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, roomID, state, lastActivity.UnixNano(), s.now().UnixNano())
	return err
}

// Load retrieves the room's state.
func (s *SQLStore) Load(ctx context.Context, roomID string) ([]byte, time.Time, error) {
	if s.closed.Load() {
		return nil, time.Time{}, ErrStoreClosed
	}

	query := fmt.Sprintf(`SELECT state, last_activity FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))

	var state []byte
	var lastActivity int64
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(&state, &lastActivity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, ErrRoomNotFound
		}
		return nil, time.Time{}, err
	}

	return state, time.Unix(0, lastActivity), nil
}

// List returns every stored room id in ascending order.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, s.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a room from the database.
func (s *SQLStore) Delete(ctx context.Context, roomID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, roomID)
	return err
}

// Close marks the store as closed.
// Note: This does not close the underlying database connection,
// as it may be shared with other components.
func (s *SQLStore) Close() error {
	s.closed.Store(true)
	return nil
}

// CreateTable creates the room table if it doesn't exist.
// This is a convenience method for development/testing.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(255) PRIMARY KEY,
				state BYTEA NOT NULL,
				last_activity BIGINT NOT NULL,
				persisted_at BIGINT NOT NULL
			)
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(255) PRIMARY KEY,
				state LONGBLOB NOT NULL,
				last_activity BIGINT NOT NULL,
				persisted_at BIGINT NOT NULL
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				state BLOB NOT NULL,
				last_activity INTEGER NOT NULL,
				persisted_at INTEGER NOT NULL
			)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query)
	return err
}
