// Package store persists queued messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  lane         TEXT NOT NULL CHECK(lane IN ('mentions','bits')),
  sender       TEXT NOT NULL,
  text         TEXT NOT NULL,
  amount       INTEGER,
  status       TEXT NOT NULL CHECK(status IN ('PENDING','PROCESSING','READY','PLAYING','PLAYED','ERROR','DELETED')) DEFAULT 'PENDING',
  audio_path   TEXT,
  audio_size   INTEGER,
  created_at   INTEGER NOT NULL,
  updated_at   INTEGER NOT NULL,
  processed_at INTEGER,
  played_at    INTEGER,
  deleted_at   INTEGER
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_status
ON messages (status);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_lane
ON messages (lane);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_status_lane
ON messages (status, lane, created_at, id);
`,
}

// Store is a thin wrapper around a SQLite connection pool. Every exported
// method runs in its own short transaction.
type Store struct {
	db        *sql.DB
	now       func() time.Time
	mu        sync.RWMutex
	closeOnce sync.Once
}

// Open opens the SQLite database at path, creating it and its parent
// directory when missing, and brings the schema up to date.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.prepare(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// dataSourceName makes every transaction take the write lock at BEGIN, so
// read-then-write transactions serialize instead of failing on upgrade.
func dataSourceName(path string) string {
	return "file:" + filepath.ToSlash(path) + "?_busy_timeout=5000&_txlock=immediate"
}

func (s *Store) prepare() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping sqlite database: %w", err)
	}
	if err := s.enableWALMode(); err != nil {
		return err
	}
	return s.applyMigrations()
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.db == nil {
			return
		}
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
			closeErr = fmt.Errorf("wal checkpoint truncate: %w", err)
		}
		if err := s.db.Close(); err != nil {
			closeErr = err
		}
		s.db = nil
	})
	return closeErr
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on every other exit path.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
