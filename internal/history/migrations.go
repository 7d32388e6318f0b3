package history

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS session_history (
	id TEXT PRIMARY KEY,
	workspace_key TEXT NOT NULL,
	child_pid INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	closed_at TEXT,
	exit_code INTEGER,
	close_reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_session_history_workspace_key
	ON session_history(workspace_key);
`,
	},
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`); err != nil {
		return fmt.Errorf("history: ensure _meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO _meta (key, value) VALUES ('schema_version', '0')`); err != nil {
		return fmt.Errorf("history: init schema_version: %w", err)
	}

	var current int
	row := tx.QueryRowContext(ctx, `SELECT value FROM _meta WHERE key = 'schema_version'`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("history: read schema_version: %w", err)
	}
	fmt.Sscanf(raw, "%d", &current)

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("history: migration %d: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE _meta SET value = ? WHERE key = 'schema_version'`, fmt.Sprintf("%d", m.version)); err != nil {
			return fmt.Errorf("history: record migration %d: %w", m.version, err)
		}
	}

	return tx.Commit()
}
