package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects SQL placeholder and upsert syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// SQLKV stores keys in a single kv table.
type SQLKV struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLKV wraps an open database and creates the table if needed.
func NewSQLKV(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLKV, error) {
	kv := &SQLKV{db: db, dialect: dialect}
	if err := kv.initSchema(ctx); err != nil {
		return nil, err
	}
	return kv, nil
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLKV, error) {
	db, err := sql.Open(string(DialectSQLite), path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	kv, err := NewSQLKV(ctx, db, DialectSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

func (s *SQLKV) initSchema(ctx context.Context) error {
	valueType := "BLOB"
	if s.dialect == DialectPostgres {
		valueType = "BYTEA"
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasksync_kv (
	key TEXT PRIMARY KEY,
	value %s NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`, valueType)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	return nil
}

// Get reads the value of key.
func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	q := "SELECT value FROM tasksync_kv WHERE key = ?"
	if s.dialect == DialectPostgres {
		q = "SELECT value FROM tasksync_kv WHERE key = $1"
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

// Put upserts key.
func (s *SQLKV) Put(ctx context.Context, key string, value []byte) error {
	q := `INSERT INTO tasksync_kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if s.dialect == DialectPostgres {
		q = `INSERT INTO tasksync_kv (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	}
	if _, err := s.db.ExecContext(ctx, q, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLKV) Delete(ctx context.Context, key string) error {
	q := "DELETE FROM tasksync_kv WHERE key = ?"
	if s.dialect == DialectPostgres {
		q = "DELETE FROM tasksync_kv WHERE key = $1"
	}
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLKV) Close() error {
	return s.db.Close()
}
