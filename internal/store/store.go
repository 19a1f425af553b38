// Package store persists conversations, messages, and the side-effect
// records (relationship edges, memories, diaries, posts, countdowns, call
// logs) in a single SQLite database.
//
// Rich structs are stored as JSON in a data column with the queryable
// fields broken out alongside. Message sequence numbers are allocated
// inside the append transaction, so Seq is gapless per conversation and
// the conversation's last-message pointer always matches the history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"starchat/internal/logging"
	"starchat/internal/metrics"
)

// Store wraps the SQLite handle. The RWMutex serializes writers; SQLite
// would do this anyway via the busy handler, but holding the lock keeps
// the seq-allocation read and the insert in one critical section.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the database at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	logging.Store("opening store at %s", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("set foreign_keys=ON: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("schema ready")
	return s, nil
}

// OpenMemory opens an in-process database, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: ":memory:"}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			is_group    INTEGER NOT NULL DEFAULT 0,
			last_seq    INTEGER NOT NULL DEFAULT 0,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			data        TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			type            TEXT NOT NULL,
			hidden          INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL,
			data            TEXT NOT NULL,
			UNIQUE (conversation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conv_seq
			ON messages(conversation_id, seq DESC)`,
		`CREATE TABLE IF NOT EXISTS relationship_edges (
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			score  INTEGER NOT NULL DEFAULT 0,
			kind   TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (source, target)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			author          TEXT NOT NULL,
			content         TEXT NOT NULL,
			important       INTEGER NOT NULL DEFAULT 0,
			keywords        TEXT NOT NULL DEFAULT '',
			embedding       BLOB,
			created_at      DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_conv
			ON memories(conversation_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS diary_entries (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			author          TEXT NOT NULL,
			content         TEXT NOT NULL,
			mood            TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS countdowns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			author          TEXT NOT NULL,
			title           TEXT NOT NULL,
			target_at       DATETIME NOT NULL,
			created_at      DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS posts (
			id         TEXT PRIMARY KEY,
			author     TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS call_logs (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			started_at      DATETIME NOT NULL,
			duration_secs   INTEGER NOT NULL DEFAULT 0,
			accepted        INTEGER NOT NULL DEFAULT 0,
			data            TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func countWrite(table string) {
	metrics.StoreWrites.WithLabelValues(table).Inc()
}
