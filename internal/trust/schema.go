// Package trust provides the SQLite-backed trust cache: a bounded set of
// (algorithm, signature) pairs with least-recently-used eviction gated by a
// persisted cull marker.
package trust

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/nbtrust/internal/apperr"
)

// MemoryDSN opens a private in-memory store.
const MemoryDSN = ":memory:"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nbsignatures (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	algorithm TEXT    NOT NULL,
	signature TEXT    NOT NULL,
	last_seen INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS algosig ON nbsignatures(algorithm, signature);
CREATE INDEX IF NOT EXISTS idx_nbsignatures_last_seen ON nbsignatures(last_seen);

CREATE TABLE IF NOT EXISTS cull_marker (
	id        INTEGER PRIMARY KEY CHECK (id = 1),
	last_cull INTEGER NOT NULL
);
`

// DB wraps a sql.DB with trust cache operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now as the source of last_seen and marker times.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// Open opens (or creates) the trust database at path and applies the schema.
// Writes take the database lock at BEGIN and wait up to five seconds for a
// competing writer, so several processes can share one file.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{now: time.Now}
	for _, opt := range opts {
		opt(db)
	}

	memory := path == MemoryDSN || path == ""
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	if memory {
		dsn = "file::memory:?_txlock=immediate"
	} else if strings.Contains(path, "?") {
		dsn = path + "&_busy_timeout=5000&_txlock=immediate"
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Storage("open", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperr.Storage("ping", err)
	}
	if err := checkIntegrity(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, apperr.Storage("apply schema", err)
	}
	if _, err := conn.Exec(`INSERT OR IGNORE INTO cull_marker (id, last_cull) VALUES (1, ?)`, db.now().UnixNano()); err != nil {
		conn.Close()
		return nil, apperr.Storage("init cull marker", err)
	}
	db.conn = conn
	return db, nil
}

func checkIntegrity(conn *sql.DB) error {
	var result string
	if err := conn.QueryRow(`PRAGMA quick_check`).Scan(&result); err != nil {
		return apperr.Storage("integrity check", err)
	}
	if result != "ok" {
		return apperr.Storage("integrity check", fmt.Errorf("database is corrupt: %s", result))
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
