// Package db is the SQLite mirror: projects, entries, dev plans,
// doc changes, rotations, sessions, and agent-recent-projects. Schema is
// written to stay portable to a server-class engine (no engine-specific
// functions in hot paths, JSON columns are TEXT). Grounded on the
// teacher's internal/db/store.go Store wrapper.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite mirror connection.
type Store struct {
	db      *sql.DB
	queries *Queries
}

// Open opens or creates a SQLite database at dbPath. If the existing
// database has an incompatible schema, it is deleted and recreated —
// the mirror is a cache of SQLite-as-source-of-truth data; the Markdown
// files remain authoritative.
func Open(dbPath string) (*Store, error) {
	store, err := openDB(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such column") ||
			strings.Contains(err.Error(), "no such table") ||
			strings.Contains(err.Error(), "SQL logic error") {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("remove incompatible mirror: %w", removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return openDB(dbPath)
		}
		return nil, err
	}
	return store, nil
}

func openDB(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	escapedPath := strings.ReplaceAll(dbPath, " ", "%20")
	connStr := "file:" + escapedPath + "?_time_format=sqlite"
	sqlDB, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: sqlDB, queries: New(sqlDB)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Queries returns the data access layer.
func (s *Store) Queries() *Queries { return s.queries }

// DB returns the underlying connection for raw queries.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a short transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// DefaultDBPath returns the default mirror path under the repo root.
func DefaultDBPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".scribe", "state.sqlite")
}
