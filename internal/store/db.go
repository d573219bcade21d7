// Package store implements the Config Store façade (spec §6): target
// configs, global defaults, opaque UI profiles, and the activity log
// persistence snapshot, all backed by a single SQLite database opened with
// production-safe pragmas.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Open opens a SQLite database at path with WAL journaling, a 10s busy
// timeout, NORMAL synchronous mode and foreign keys on, then applies the
// Store schema. path may be ":memory:" for tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return db, nil
}

// OpenMemory opens an in-memory SQLite database, pinned to a single
// connection (each new connection to ":memory:" would otherwise see a
// distinct empty database).
func OpenMemory() (*sql.DB, error) {
	db, err := Open(":memory:")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
