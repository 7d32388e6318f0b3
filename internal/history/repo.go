package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/user/termbroker/internal/termsession"
)

// RecordStart inserts an audit row for a newly spawned session. It is
// best-effort: a failure here never prevents the session from running, it
// only means that session's lifecycle won't be queryable afterward.
func (s *Store) RecordStart(ctx context.Context, sess *termsession.Session, pid int) (string, error) {
	id := uuid.NewString()
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO session_history (id, workspace_key, child_pid, started_at) VALUES (?, ?, ?, ?)`,
		id, sess.Key, pid, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("history: record start: %w", err)
	}
	return id, nil
}

// RecordClose fills in the close columns for a previously started record.
func (s *Store) RecordClose(ctx context.Context, recordID string, reason termsession.CloseReason, exitCode int) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE session_history SET closed_at = ?, exit_code = ?, close_reason = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), exitCode, string(reason), recordID)
	if err != nil {
		return fmt.Errorf("history: record close: %w", err)
	}
	return nil
}

// TrackSession wires a Store to a Session's full lifecycle: it inserts a
// start row immediately and, once the session closes, fills in the close
// columns. Failures are logged, never propagated — the audit log must
// never be able to affect a live session.
func (s *Store) TrackSession(sess *termsession.Session, pid int) {
	ctx := context.Background()
	recordID, err := s.RecordStart(ctx, sess, pid)
	if err != nil {
		slog.Warn("history: failed to record session start", "workspace_key", sess.Key, "error", err)
		return
	}

	go func() {
		<-sess.Done()
		if err := s.RecordClose(context.Background(), recordID, sess.CloseReason(), sess.ExitCode()); err != nil {
			slog.Warn("history: failed to record session close", "workspace_key", sess.Key, "error", err)
		}
	}()
}
