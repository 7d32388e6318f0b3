package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/termbroker/internal/ptydevice"
	"github.com/user/termbroker/internal/termsession"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStartAndClose(t *testing.T) {
	s := openTestStore(t)

	dev, err := ptydevice.Spawn(ptydevice.Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sess := termsession.New(dev, termsession.Options{Key: "ws-hist", IdleTimeout: time.Hour})
	defer sess.RequestClose(termsession.CloseReasonRequested)

	recordID, err := s.RecordStart(context.Background(), sess, dev.PID())
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if recordID == "" {
		t.Fatal("expected a non-empty record id")
	}

	if err := s.RecordClose(context.Background(), recordID, termsession.CloseReasonRequested, 0); err != nil {
		t.Fatalf("RecordClose: %v", err)
	}

	var closedAt, reason string
	row := s.SQL().QueryRow(`SELECT closed_at, close_reason FROM session_history WHERE id = ?`, recordID)
	if err := row.Scan(&closedAt, &reason); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if closedAt == "" {
		t.Fatal("expected closed_at to be set")
	}
	if reason != string(termsession.CloseReasonRequested) {
		t.Fatalf("expected reason %q, got %q", termsession.CloseReasonRequested, reason)
	}
}

func TestTrackSessionRecordsLifecycle(t *testing.T) {
	s := openTestStore(t)

	dev, err := ptydevice.Spawn(ptydevice.Spec{Command: "sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	sess := termsession.New(dev, termsession.Options{Key: "ws-track", IdleTimeout: time.Hour})

	s.TrackSession(sess, dev.PID())

	select {
	case <-sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not close in time")
	}
	time.Sleep(50 * time.Millisecond) // let the async RecordClose land

	var count int
	row := s.SQL().QueryRow(`SELECT COUNT(*) FROM session_history WHERE workspace_key = ? AND closed_at IS NOT NULL`, "ws-track")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one closed record, got %d", count)
	}
}
