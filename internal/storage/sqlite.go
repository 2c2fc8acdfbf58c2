package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteKV keeps all keys in a single table of a sqlite database.
type SQLiteKV struct {
	db *sql.DB
}

// OpenSQLiteKV opens (or creates) dataDir/tempwallet.db.
func OpenSQLiteKV(dataDir string) (*SQLiteKV, error) {
	return OpenSQLiteKVDSN(filepath.Join(dataDir, "tempwallet.db"))
}

// OpenSQLiteKVDSN opens a KV using the given sqlite DSN/path.
// Tests may pass ":memory:" to avoid touching disk.
func OpenSQLiteKVDSN(dsn string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteKV{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`)
	if err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}
	return nil
}

// Close closes the underlying DB.
func (s *SQLiteKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET
	value=excluded.value,
	updated_at=CURRENT_TIMESTAMP
`, key, value)
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
