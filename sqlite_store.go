package biosecure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a BytesStore backed by a single SQLite table
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates a SQLite database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	// The pragmas go in the DSN so every pooled connection gets them.
	// Concurrent writers wait instead of failing with SQLITE_BUSY.
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

// Get returns the value stored under id
func (s *SQLiteStore) Get(ctx context.Context, id string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, NewIOError("get", id, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put stores data under id, replacing any previous value
func (s *SQLiteStore) Put(ctx context.Context, id string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		id, data, time.Now().Unix())
	if err != nil {
		return NewIOError("put", id, err)
	}
	return nil
}

// Delete removes id
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, id)
	if err != nil {
		return NewIOError("delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return NewIOError("delete", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the stored keys in sorted order
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM preferences ORDER BY key`)
	if err != nil {
		return nil, NewIOError("list", "", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewIOError("list", "", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, NewIOError("list", "", err)
	}
	return ids, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
