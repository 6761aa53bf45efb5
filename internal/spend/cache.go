// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package spend

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Cache stores the spend entries extracted from closed segments, keyed by
// audit.Segment.Key. It is derived state and may be dropped at any time.
type Cache interface {
	Get(key string) ([]Entry, bool, error)
	Put(key string, entries []Entry) error
}

// =============================================================================
// MEMORY CACHE
// =============================================================================

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]Entry
	hits    int
	misses  int
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]Entry)}
}

func (m *MemoryCache) Get(key string) ([]Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return e, ok, nil
}

func (m *MemoryCache) Put(key string, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]Entry(nil), entries...)
	return nil
}

// Stats returns hit and miss counts.
func (m *MemoryCache) Stats() (hits, misses int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits, m.misses
}

// =============================================================================
// SQLITE CACHE
// =============================================================================

const cacheSchema = `
CREATE TABLE IF NOT EXISTS segments (
	segment_key TEXT PRIMARY KEY,
	entry_count INTEGER NOT NULL,
	cached_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS spend_entries (
	segment_key TEXT NOT NULL REFERENCES segments(segment_key) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	session_id  TEXT NOT NULL,
	sequence_no INTEGER NOT NULL,
	ts_unix_ns  INTEGER NOT NULL,
	amount      TEXT NOT NULL,
	currency    TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (segment_key, ordinal)
);
`

// SQLiteCache persists extracted entries across processes.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens (creating if needed) a cache database at path.
func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spend cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create spend cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

func (s *SQLiteCache) Get(key string) ([]Entry, bool, error) {
	var count int
	err := s.db.QueryRow("SELECT entry_count FROM segments WHERE segment_key = ?", key).Scan(&count)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := s.db.Query(`
		SELECT session_id, sequence_no, ts_unix_ns, amount, currency, source
		FROM spend_entries WHERE segment_key = ? ORDER BY ordinal`, key)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, count)
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.SessionID, &e.Sequence, &ts, &e.Amount, &e.Currency, &e.Source); err != nil {
			return nil, false, err
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(entries) != count {
		return nil, false, fmt.Errorf("spend cache entry count mismatch for %s", key)
	}
	return entries, true, nil
}

func (s *SQLiteCache) Put(key string, entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM segments WHERE segment_key = ?", key); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO segments (segment_key, entry_count, cached_at) VALUES (?, ?, ?)",
		key, len(entries), time.Now().Unix()); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO spend_entries (segment_key, ordinal, session_id, sequence_no, ts_unix_ns, amount, currency, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		if _, err := stmt.Exec(key, i, e.SessionID, int64(e.Sequence), e.Timestamp.UnixNano(), e.Amount, e.Currency, e.Source); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Len returns the number of cached segments.
func (s *SQLiteCache) Len() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM segments").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
