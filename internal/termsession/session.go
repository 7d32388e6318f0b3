// Package termsession implements the Session type: the in-memory object
// that owns one PTY Device across its full lifetime, independent of any
// particular WebSocket connection. A Session outlives individual peers —
// closing a connection detaches a peer, it does not touch the child.
package termsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/user/termbroker/internal/ptydevice"
)

// State is the Session's lifecycle stage.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
)

// ErrBusy is returned by Attach when another peer already holds the
// session's single attachment slot.
var ErrBusy = errors.New("termsession: session busy")

// ErrClosed is returned by operations attempted against a Session that has
// already reached StateClosed.
var ErrClosed = errors.New("termsession: session closed")

// CloseReason records why a Session left StateRunning/StatePaused, for the
// history audit log and the final wire "closed" message.
type CloseReason string

const (
	CloseReasonChildExit   CloseReason = "child_exit"
	CloseReasonIdleTimeout CloseReason = "idle_timeout"
	CloseReasonRequested   CloseReason = "requested"
	CloseReasonSpawnError  CloseReason = "spawn_error"
)

// Peer is a single attached consumer of a Session's live output. Exactly
// one Peer may be attached at a time; a second Attach call observes ErrBusy
// until the first is Detached.
type Peer struct {
	ch      chan []byte
	stopped chan struct{}
	once    sync.Once
}

func newPeer() *Peer {
	return &Peer{
		ch:      make(chan []byte, 1),
		stopped: make(chan struct{}),
	}
}

// Output returns the channel the Terminal Handler's output pump should
// range over to receive live bytes while attached.
func (p *Peer) Output() <-chan []byte { return p.ch }

// Stopped returns a channel closed when the Session has detached this peer
// (takeover by another peer, or Session close).
func (p *Peer) Stopped() <-chan struct{} { return p.stopped }

func (p *Peer) stop() {
	p.once.Do(func() { close(p.stopped) })
}

// Session brokers one PTY Device between its single persistent reader and
// whichever Peer is currently attached. It always appends every byte the
// child produces to its ReplayBuffer, whether or not a peer is attached.
type Session struct {
	ID  string
	Key string

	device *ptydevice.Device
	buffer *ReplayBuffer

	idleTimeout time.Duration

	mu           sync.Mutex
	state        State
	attached     *Peer
	resumeToken  string
	lastActivity time.Time
	closeReason  CloseReason
	exitCode     int
	closeOnce    sync.Once
	closed       chan struct{}

	cancelOutput context.CancelFunc
}

// Options configures a new Session.
type Options struct {
	Key         string
	BufferBytes int
	IdleTimeout time.Duration
}

// New wraps an already-spawned Device in a Session and starts the
// persistent output loop. The Session takes ownership of device: closing
// the Session closes the device.
func New(device *ptydevice.Device, opts Options) *Session {
	s := &Session{
		ID:           uuid.NewString(),
		Key:          opts.Key,
		device:       device,
		buffer:       NewReplayBuffer(opts.BufferBytes),
		idleTimeout:  opts.IdleTimeout,
		state:        StateStarting,
		lastActivity: time.Now(),
		closed:       make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelOutput = cancel
	s.setState(StateRunning)

	go s.outputLoop(ctx)
	go s.waitLoop()

	return s
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the Session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the last time input arrived or a peer was attached.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// touch records activity, used by the idle sweeper to decide eligibility.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// outputLoop is the Session's single persistent reader: it owns the only
// call to device.Read for this Session's lifetime. Every chunk is appended
// to the replay buffer unconditionally, then forwarded to whichever peer is
// attached at the moment, blocking if the peer is slow to drain — this is
// the mechanism that carries WebSocket backpressure all the way back to the
// child's own blocked write().
func (s *Session) outputLoop(ctx context.Context) {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.device.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.buffer.Append(chunk)
			s.forwardToAttachedPeer(ctx, chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) forwardToAttachedPeer(ctx context.Context, chunk []byte) {
	s.mu.Lock()
	peer := s.attached
	s.mu.Unlock()
	if peer == nil {
		return
	}
	select {
	case peer.ch <- chunk:
	case <-peer.stopped:
	case <-ctx.Done():
	}
}

// waitLoop watches the child's exit and transitions the Session to
// StateClosed once it reaches end of life, distinct from an explicit
// RequestClose which tears the child down first.
func (s *Session) waitLoop() {
	code := s.device.Wait()
	s.mu.Lock()
	alreadyClosing := s.state == StateClosing
	s.exitCode = code
	if !alreadyClosing {
		s.closeReason = CloseReasonChildExit
	}
	s.mu.Unlock()
	s.finish()
}

func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.cancelOutput()
		s.mu.Lock()
		s.state = StateClosed
		peer := s.attached
		s.attached = nil
		s.mu.Unlock()
		if peer != nil {
			peer.stop()
		}
		close(s.closed)
	})
}

// Done returns a channel closed once the Session has reached StateClosed.
func (s *Session) Done() <-chan struct{} { return s.closed }

// ExitCode returns the child's exit code. Only meaningful once Done() has
// fired.
func (s *Session) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// CloseReason reports why the Session left running/paused state. Only
// meaningful once Done() has fired.
func (s *Session) CloseReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Attach binds a new Peer as the session's sole live-output consumer. If
// another peer already holds the slot, it returns (nil, ErrBusy) without
// displacing it — the caller (Terminal Handler) decides whether and how to
// evict the prior peer via ForceVacate, then retries.
func (s *Session) Attach() (*Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateClosing {
		return nil, ErrClosed
	}
	if s.attached != nil {
		return nil, ErrBusy
	}
	p := newPeer()
	s.attached = p
	s.lastActivity = time.Now()
	return p, nil
}

// ForceVacate evicts whoever currently holds the attachment slot, if
// anyone, so a waiting Attach call can succeed. It reports whether a peer
// was actually evicted. Used by the Terminal Handler's takeover retry: a
// second connection detaches the first before re-attempting Attach.
func (s *Session) ForceVacate() bool {
	s.mu.Lock()
	peer := s.attached
	if peer != nil {
		s.attached = nil
	}
	s.mu.Unlock()
	if peer == nil {
		return false
	}
	peer.stop()
	return true
}

// Detach releases peer's attachment slot if it is still the current
// attachment. It is a no-op if peer has already been superseded (e.g. a
// takeover already detached it). Safe to call after the session closed.
func (s *Session) Detach(peer *Peer) {
	s.mu.Lock()
	if s.attached == peer {
		s.attached = nil
	}
	s.mu.Unlock()
	peer.stop()
}

// MarkCheckpoint transitions the Session to StatePaused. Called by the
// Terminal Handler's output pump when it observes a checkpoint marker in
// the child's output stream — the only trigger for this transition.
// Attachment and detachment never touch state, so a reconnect can never
// silently clear a genuine checkpoint.
func (s *Session) MarkCheckpoint() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StatePaused
	}
	s.mu.Unlock()
}

// Write sends bytes to the child's stdin and records activity. Input
// validation has already happened in the Terminal Handler by the time this
// is called.
func (s *Session) Write(p []byte) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	s.touch()
	_, err := s.device.Write(p)
	return err
}

// Resize issues a window-size change against the underlying Device.
func (s *Session) Resize(rows, cols uint16) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	return s.device.Resize(rows, cols)
}

// Signal delivers a signal to the child's process group.
func (s *Session) Signal(sig syscall.Signal) error {
	if s.State() == StateClosed {
		return ErrClosed
	}
	return s.device.Signal(sig)
}

// SnapshotBuffer returns a copy of the replay buffer's current contents.
// Mandatory on every successful attach, per the wire protocol.
func (s *Session) SnapshotBuffer() []byte {
	return s.buffer.Snapshot()
}

// SnapshotBufferLen reports how many bytes are currently buffered, without
// copying them.
func (s *Session) SnapshotBufferLen() int {
	return s.buffer.Len()
}

// SetResumeToken stores an opaque resume token the Terminal Handler
// extracted from a resume-token marker. Resume tokens are never interpreted
// by the Session; persisting them across restarts, if at all, is the
// caller's responsibility (see spec's Open Questions).
func (s *Session) SetResumeToken(token string) {
	s.mu.Lock()
	s.resumeToken = token
	s.mu.Unlock()
}

// ResumeToken returns the last resume token observed, or "" if none.
func (s *Session) ResumeToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeToken
}

// RequestClose begins an explicit, caller-initiated teardown: it moves the
// Session to StateClosing, closes the Device (SIGTERM then SIGKILL after
// grace), and lets waitLoop finish the transition to StateClosed once the
// child is reaped.
func (s *Session) RequestClose(reason CloseReason) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.closeReason = reason
	s.mu.Unlock()

	if err := s.device.Close(); err != nil {
		return fmt.Errorf("termsession: close: %w", err)
	}
	return nil
}

// IdleFor reports how long the session has been idle relative to now,
// used by the Session Manager's sweeper.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// IdleTimeout returns the configured idle timeout for this session, or 0
// if idle sweeping is disabled for it.
func (s *Session) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// HasAttachedPeer reports whether a peer currently holds the attachment
// slot, used by the sweeper to never evict a session someone is watching.
func (s *Session) HasAttachedPeer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached != nil
}

// LogAttrs returns structured logging fields identifying this session,
// mirroring the key-value style of the teacher's session manager logging.
func (s *Session) LogAttrs() []any {
	return []any{slog.String("session_id", s.ID), slog.String("workspace_key", s.Key)}
}
