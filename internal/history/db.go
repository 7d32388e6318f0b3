// Package history implements a best-effort, diagnostic-only audit log of
// Session lifecycles, backed by modernc.org/sqlite. It is never consulted
// to reconstruct a live Session — the in-memory state in internal/termsession
// remains the only source of truth for anything the subsystem acts on.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the audit-log database connection.
type Store struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// its one migration.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{conn: conn}, nil
}

// SQL exposes the underlying connection, e.g. for ad hoc operator queries.
func (s *Store) SQL() *sql.DB { return s.conn }

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
