// Package sessionmgr implements the Session Manager: the registry that maps
// workspace keys to Sessions, serializes concurrent get-or-create calls per
// key, and sweeps idle sessions on a ticker.
package sessionmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/user/termbroker/internal/ptydevice"
	"github.com/user/termbroker/internal/termsession"
)

// NotFoundError is returned by Lookup when no Session exists for a key.
type NotFoundError struct{ Key string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sessionmgr: no session for workspace key %q", e.Key)
}

// AlreadyFinishedError is returned by GetOrCreate/Lookup when the session
// registered under a key has reached StateClosing or StateClosed — racing a
// new spawn against an in-flight teardown would leave two Sessions briefly
// registered under the same key, so callers are asked to retry instead.
type AlreadyFinishedError struct{ Key string }

func (e *AlreadyFinishedError) Error() string {
	return fmt.Sprintf("sessionmgr: session for workspace key %q already finished", e.Key)
}

// SpawnSpec is the opaque, caller-supplied description of the child to
// spawn when a Session doesn't already exist for a key.
type SpawnSpec struct {
	Command     string
	Args        []string
	Env         []string
	WorkDir     string
	Rows        uint16
	Cols        uint16
	BufferBytes int
	IdleTimeout time.Duration
	Grace       time.Duration
}

// Manager owns the registry of live Sessions, keyed by workspace key.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*termsession.Session
	inflight map[string]chan struct{} // per-key serialization for GetOrCreate

	sweepInterval time.Duration

	onSpawned func(sess *termsession.Session, pid int)
	onClosed  func(*termsession.Session)

	stop chan struct{}
	done chan struct{}
}

// Hooks lets a caller observe Session lifecycle transitions without the
// Manager depending on any concrete observer (e.g. internal/history).
// Neither hook may block: OnSpawned runs inline during spawn, OnClosed runs
// on its own goroutine.
type Hooks struct {
	OnSpawned func(sess *termsession.Session, pid int)
	OnClosed  func(sess *termsession.Session)
}

// New builds a Manager and starts its idle sweeper goroutine. hooks may be
// the zero value if no observer is needed.
func New(sweepInterval time.Duration, hooks Hooks) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	m := &Manager{
		sessions:      make(map[string]*termsession.Session),
		inflight:      make(map[string]chan struct{}),
		sweepInterval: sweepInterval,
		onSpawned:     hooks.OnSpawned,
		onClosed:      hooks.OnClosed,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.runSweeper()
	return m
}

// Lookup returns the Session currently registered for key without creating
// one. Used by reconnects that must not spawn a fresh child for a
// previously idle-swept workspace.
func (m *Manager) Lookup(key string) (*termsession.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	switch sess.State() {
	case termsession.StateClosing, termsession.StateClosed:
		return nil, &AlreadyFinishedError{Key: key}
	}
	return sess, nil
}

// GetOrCreate returns the Session for key, spawning one from spec if none
// exists yet. Concurrent calls for the same key serialize: the first caller
// spawns, the rest wait for it and then share the result.
func (m *Manager) GetOrCreate(ctx context.Context, key string, spec SpawnSpec) (*termsession.Session, error) {
	for {
		m.mu.Lock()
		if sess, ok := m.sessions[key]; ok {
			switch sess.State() {
			case termsession.StateClosing, termsession.StateClosed:
				m.mu.Unlock()
				return nil, &AlreadyFinishedError{Key: key}
			default:
				m.mu.Unlock()
				return sess, nil
			}
		}
		if wait, busy := m.inflight[key]; busy {
			m.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		m.inflight[key] = done
		m.mu.Unlock()

		sess, err := m.spawnAndRegister(key, spec)

		m.mu.Lock()
		delete(m.inflight, key)
		m.mu.Unlock()
		close(done)

		return sess, err
	}
}

func (m *Manager) spawnAndRegister(key string, spec SpawnSpec) (*termsession.Session, error) {
	dev, err := ptydevice.Spawn(ptydevice.Spec{
		Command: spec.Command,
		Args:    spec.Args,
		Env:     spec.Env,
		WorkDir: spec.WorkDir,
		Rows:    spec.Rows,
		Cols:    spec.Cols,
		Grace:   spec.Grace,
	})
	if err != nil {
		return nil, fmt.Errorf("sessionmgr: spawn for %q: %w", key, err)
	}

	sess := termsession.New(dev, termsession.Options{
		Key:         key,
		BufferBytes: spec.BufferBytes,
		IdleTimeout: spec.IdleTimeout,
	})

	m.mu.Lock()
	m.sessions[key] = sess
	m.mu.Unlock()

	go m.awaitClose(key, sess)

	if m.onSpawned != nil {
		m.onSpawned(sess, dev.PID())
	}

	slog.Info("session spawned", "workspace_key", key, "session_id", sess.ID, "pid", dev.PID())
	return sess, nil
}

func (m *Manager) awaitClose(key string, sess *termsession.Session) {
	<-sess.Done()
	m.mu.Lock()
	if m.sessions[key] == sess {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	slog.Info("session closed", "workspace_key", key, "session_id", sess.ID,
		"reason", sess.CloseReason(), "exit_code", sess.ExitCode())

	if m.onClosed != nil {
		go m.onClosed(sess)
	}
}

// Drop forcibly tears down the Session registered for key, if any. Used for
// explicit shutdown requests outside the wire protocol (e.g. an admin API).
func (m *Manager) Drop(key string, reason termsession.CloseReason) error {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return &NotFoundError{Key: key}
	}
	return sess.RequestClose(reason)
}

// runSweeper runs until Close is called, periodically closing Sessions that
// have been idle past their configured timeout with no attached peer.
func (m *Manager) runSweeper() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweepOnce(now)
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	candidates := make([]*termsession.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		candidates = append(candidates, sess)
	}
	m.mu.Unlock()

	for _, sess := range candidates {
		timeout := sess.IdleTimeout()
		if timeout <= 0 || sess.HasAttachedPeer() {
			continue
		}
		idle := sess.IdleFor(now)
		if idle < timeout {
			continue
		}
		slog.Info("sweeping idle session",
			"workspace_key", sess.Key, "session_id", sess.ID,
			"idle_for", humanize.RelTime(now.Add(-idle), now, "", ""),
			"buffer_bytes", humanize.Bytes(uint64(sess.SnapshotBufferLen())))
		if err := sess.RequestClose(termsession.CloseReasonIdleTimeout); err != nil {
			slog.Warn("idle sweep close failed", "workspace_key", sess.Key, "error", err)
		}
	}
}

// Close stops the sweeper and waits for it to exit. It does not itself
// close any Session; callers decide whether a shutdown drains sessions or
// leaves children running.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done
}

// Count returns the number of currently registered sessions, for metrics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
