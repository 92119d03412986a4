// Package vecstore provides the SQLite-backed vector projection store.
//
// The store holds one row per canonical entry: its embedding plus the
// metadata needed for filtering and reweighting. It is fully
// reconstructible from the canonical log and the embedding provider;
// losing it costs only a rebuild.
package vecstore

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fenwick/mnemon/internal/apperr"
	"github.com/fenwick/mnemon/internal/embedding"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS vectors (
	entry_id        TEXT PRIMARY KEY,
	author          TEXT NOT NULL,
	kind            TEXT NOT NULL,
	promotion_depth INTEGER NOT NULL DEFAULT 0,
	trust_weight    REAL NOT NULL DEFAULT 1.0,
	embedding       BLOB NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vectors_author ON vectors(author);
CREATE INDEX IF NOT EXISTS idx_vectors_kind ON vectors(kind);

CREATE TABLE IF NOT EXISTS store_meta (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	model TEXT NOT NULL,
	dims  INTEGER NOT NULL
);
`

// Store wraps a SQLite database and an embedding provider.
//
// Concurrency: queries take a read lock; upsert and rebuild take the
// write lock, so a rebuild in progress is never observed as a partial
// state. A rebuild swaps the vector set atomically inside one
// transaction.
type Store struct {
	mu       sync.RWMutex
	conn     *sql.DB
	provider embedding.Provider
}

// Open opens (or creates) the store and verifies that the persisted
// index matches the active embedding provider. A provider switch
// without a rebuild fails fast with apperr.ErrDimensionMismatch.
func Open(dsn string, provider embedding.Provider) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("vecstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("vecstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("vecstore: apply schema: %w", err)
	}

	var model string
	var dims int
	err = conn.QueryRow(`SELECT model, dims FROM store_meta WHERE id = 1`).Scan(&model, &dims)
	switch {
	case err == sql.ErrNoRows:
		if _, err := conn.Exec(`INSERT INTO store_meta (id, model, dims) VALUES (1, ?, ?)`,
			provider.Model(), provider.Dims()); err != nil {
			conn.Close()
			return nil, fmt.Errorf("vecstore: write meta: %w", err)
		}
	case err != nil:
		conn.Close()
		return nil, fmt.Errorf("vecstore: read meta: %w", err)
	case model != provider.Model() || dims != provider.Dims():
		conn.Close()
		return nil, fmt.Errorf("%w: store built with %s (%d dims), active provider is %s (%d dims); rebuild required",
			apperr.ErrDimensionMismatch, model, dims, provider.Model(), provider.Dims())
	}

	return &Store{conn: conn, provider: provider}, nil
}

// Provider returns the embedding provider the store was opened with.
func (s *Store) Provider() embedding.Provider { return s.provider }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
