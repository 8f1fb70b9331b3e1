package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps slots in a single key-value table of a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	table     string
	namespace string
	ownsDB    bool
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore) error

var sqliteIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithTable overrides the table name (default "kv"). The name must be a
// plain identifier.
func WithTable(table string) SQLiteOption {
	return func(s *SQLiteStore) error {
		table = strings.TrimSpace(table)
		if !sqliteIdentRe.MatchString(table) {
			return fmt.Errorf("store: invalid sqlite table identifier %q", table)
		}
		s.table = table
		return nil
	}
}

// WithNamespace sets the key namespace.
func WithNamespace(namespace string) SQLiteOption {
	return func(s *SQLiteStore) error {
		s.namespace = namespace
		return nil
	}
}

// OpenSQLite opens (or creates) the database at dsn and prepares the table.
// The returned store owns the connection and closes it on Close.
func OpenSQLite(ctx context.Context, dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps modernc from returning SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStore wraps an existing database handle. The handle is owned by
// the caller.
func NewSQLiteStore(ctx context.Context, db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("store: nil sqlite db")
	}
	s := &SQLiteStore{db: db, table: "kv"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create sqlite table: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, slot Slot) ([]byte, error) {
	var value []byte
	q := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, s.table)
	err := s.db.QueryRowContext(ctx, q, Key(s.namespace, slot)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.mapErr("get", err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, slot Slot, value []byte) error {
	if len(value) == 0 {
		return s.Delete(ctx, slot)
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, q, Key(s.namespace, slot), value, time.Now().Unix()); err != nil {
		return s.mapErr("set", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, slot Slot) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, q, Key(s.namespace, slot)); err != nil {
		return s.mapErr("delete", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("sqlite %s: %w", op, ErrClosed)
	}
	if strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("sqlite %s: %w", op, ErrClosed)
	}
	return fmt.Errorf("sqlite %s: %w", op, err)
}
