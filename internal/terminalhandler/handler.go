// Package terminalhandler implements the Terminal Handler: the per-connection
// broker between one WebSocket and one Session. It owns the handshake
// (resolve-or-create, attach with one takeover retry, mandatory replay),
// the input/output pumps, and translating Session lifecycle events into the
// wire protocol in internal/wsprotocol.
package terminalhandler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/user/termbroker/internal/sessionmgr"
	"github.com/user/termbroker/internal/termsession"
	"github.com/user/termbroker/internal/validator"
	"github.com/user/termbroker/internal/wsprotocol"
)

// Limits bounds the handler's acceptance of client-controlled values and
// the time it allows the connect sequence to take.
type Limits struct {
	InputMaxBytes int
	ResizeMaxDim  uint16
	SpawnDeadline time.Duration
}

// Handler brokers exactly one WebSocket connection against the Session
// Manager for the lifetime of Run.
type Handler struct {
	manager *sessionmgr.Manager
	limits  Limits
}

// New builds a Handler bound to manager.
func New(manager *sessionmgr.Manager, limits Limits) *Handler {
	if limits.InputMaxBytes <= 0 {
		limits.InputMaxBytes = 2048
	}
	if limits.ResizeMaxDim == 0 {
		limits.ResizeMaxDim = 500
	}
	if limits.SpawnDeadline <= 0 {
		limits.SpawnDeadline = 10 * time.Second
	}
	return &Handler{manager: manager, limits: limits}
}

var signalByName = map[string]syscall.Signal{
	"SIGINT":   syscall.SIGINT,
	"SIGTERM":  syscall.SIGTERM,
	"SIGHUP":   syscall.SIGHUP,
	"SIGQUIT":  syscall.SIGQUIT,
	"SIGKILL":  syscall.SIGKILL,
	"SIGUSR1":  syscall.SIGUSR1,
	"SIGUSR2":  syscall.SIGUSR2,
	"SIGWINCH": syscall.SIGWINCH,
}

// Run drives one connection end-to-end: handshake, resolve the Session for
// key (spawning one from spec if spec is non-nil and none exists), attach
// with a single takeover retry, send the mandatory replay, then pump input
// and output until either side ends the conversation.
func (h *Handler) Run(ctx context.Context, conn *websocket.Conn, key string, spec *sessionmgr.SpawnSpec) error {
	connID := uuid.NewString()
	logAttrs := []any{slog.String("workspace_key", key), slog.String("conn_id", connID)}

	// Step 1: handshake. Sent unconditionally, before the Session is even
	// resolved, so every client sees a Status frame first.
	if err := wsjson(ctx, conn, wsprotocol.NewStatusMsg(true, nil, false)); err != nil {
		return err
	}

	if key == "" {
		h.sendError(ctx, conn, wsprotocol.CodeInvalidID)
		return conn.Close(closeCodeFor(wsprotocol.CodeInvalidID), wsprotocol.CodeInvalidID)
	}

	spawnCtx, cancel := context.WithTimeout(ctx, h.limits.SpawnDeadline)
	defer cancel()

	// Steps 2-3: resolve (spawning if needed) and attach, both under the
	// connect-time deadline.
	sess, err := h.resolveSession(spawnCtx, key, spec)
	if err != nil {
		code := errToWireCode(err)
		h.sendError(ctx, conn, code)
		_ = conn.Close(closeCodeFor(code), code)
		slog.Info("terminal handler: resolve failed", append(logAttrs, slog.String("code", code))...)
		return err
	}

	peer, err := h.attachWithRetry(sess)
	if err != nil {
		h.sendError(ctx, conn, wsprotocol.CodeSessionBusy)
		_ = conn.Close(closeCodeFor(wsprotocol.CodeSessionBusy), wsprotocol.CodeSessionBusy)
		return err
	}
	defer sess.Detach(peer)

	sessionID := sess.ID
	if err := wsjson(spawnCtx, conn, wsprotocol.NewStatusMsg(true, &sessionID, false)); err != nil {
		if errors.Is(spawnCtx.Err(), context.DeadlineExceeded) {
			h.sendError(ctx, conn, wsprotocol.CodeSessionError)
			_ = conn.Close(closeCodeFor(wsprotocol.CodeSessionError), wsprotocol.CodeSessionError)
		}
		return err
	}

	// Step 4: mandatory replay, even when empty.
	if err := h.sendReplay(ctx, conn, sess); err != nil {
		return err
	}

	pumpCtx, cancel2 := context.WithCancel(ctx)
	defer cancel2()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel2()
		h.outputPump(pumpCtx, conn, sess, peer)
	}()
	go func() {
		defer wg.Done()
		defer cancel2()
		h.inputPump(pumpCtx, conn, sess)
	}()

	wg.Wait()

	code := ""
	var exitCode *int
	select {
	case <-sess.Done():
		ec := sess.ExitCode()
		exitCode = &ec
		if sess.CloseReason() != termsession.CloseReasonChildExit {
			code = wsprotocol.CodeSessionError
		}
	default:
		select {
		case <-peer.Stopped():
			// Displaced by another connection's takeover: no closed frame.
			return conn.Close(4000, wsprotocol.CodeSessionBusy)
		default:
		}
	}
	h.sendClosed(ctx, conn, code, exitCode)
	if code != "" {
		return conn.Close(closeCodeFor(code), code)
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) resolveSession(ctx context.Context, key string, spec *sessionmgr.SpawnSpec) (*termsession.Session, error) {
	if spec != nil {
		return h.manager.GetOrCreate(ctx, key, *spec)
	}
	return h.manager.Lookup(key)
}

// attachWithRetry implements the takeover contract: a second peer attaching
// to an occupied session detaches the occupant and retries exactly once
// before surfacing SESSION_BUSY as fatal.
func (h *Handler) attachWithRetry(sess *termsession.Session) (*termsession.Peer, error) {
	peer, err := sess.Attach()
	if err == nil {
		return peer, nil
	}
	if !errors.Is(err, termsession.ErrBusy) {
		return nil, err
	}

	// Can't reach the occupant's Peer from here without Session exposing it;
	// the Session itself performs the takeover by detaching whoever is
	// attached when asked to make room.
	sess.ForceVacate()
	peer, err = sess.Attach()
	if err == nil {
		return peer, nil
	}
	return nil, fmt.Errorf("terminalhandler: %w", termsession.ErrBusy)
}

func (h *Handler) sendReplay(ctx context.Context, conn *websocket.Conn, sess *termsession.Session) error {
	buf := sess.SnapshotBuffer()
	text := strings.ToValidUTF8(string(buf), "�")
	return wsjson(ctx, conn, wsprotocol.NewOutputMsg(text))
}

// outputPump is the Session's live output consumer for the lifetime of the
// attachment: it scans for markers, decodes UTF-8 boundary-safely, and
// writes output/status frames. It returns once the peer is stopped (by a
// takeover or Session close) or the connection's context is cancelled.
func (h *Handler) outputPump(ctx context.Context, conn *websocket.Conn, sess *termsession.Session, peer *termsession.Peer) {
	var scanner markerScanner
	sessionID := sess.ID
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.Stopped():
			return
		case chunk, ok := <-peer.Output():
			if !ok {
				return
			}
			res := scanner.Feed(chunk)
			if res.Text != "" {
				if err := wsjson(ctx, conn, wsprotocol.NewOutputMsg(res.Text)); err != nil {
					return
				}
			}
			if res.SawCheckpoint {
				sess.MarkCheckpoint()
				if err := wsjson(ctx, conn, wsprotocol.NewStatusMsg(true, &sessionID, true)); err != nil {
					return
				}
			}
			if res.ResumeToken != "" {
				sess.SetResumeToken(res.ResumeToken)
			}
		}
	}
}

// inputPump reads client frames and applies them: validated input bytes go
// to the child's stdin, resize requests are bounds-checked, and signal
// requests are mapped to an actual signal number.
func (h *Handler) inputPump(ctx context.Context, conn *websocket.Conn, sess *termsession.Session) {
	conn.SetReadLimit(int64(h.limits.InputMaxBytes) + 4096)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msg, err := wsprotocol.ParseClientMessage(data)
		if err != nil {
			h.sendError(ctx, conn, wsprotocol.CodeInvalidMessage)
			continue
		}

		switch {
		case msg.Input != nil:
			payload := []byte(msg.Input.Data)
			if verr := validator.Validate(payload, h.limits.InputMaxBytes); verr != nil {
				h.sendError(ctx, conn, wsprotocol.CodeValidation)
				continue
			}
			if err := sess.Write(payload); err != nil {
				return
			}
		case msg.Resize != nil:
			if !validDim(msg.Resize.Rows, h.limits.ResizeMaxDim) || !validDim(msg.Resize.Cols, h.limits.ResizeMaxDim) {
				h.sendError(ctx, conn, wsprotocol.CodeValidation)
				continue
			}
			if err := sess.Resize(msg.Resize.Rows, msg.Resize.Cols); err != nil {
				return
			}
		case msg.Signal != nil:
			sig, ok := signalByName[strings.ToUpper(msg.Signal.Signal)]
			if !ok {
				h.sendError(ctx, conn, wsprotocol.CodeInvalidMessage)
				continue
			}
			if err := sess.Signal(sig); err != nil {
				log.Printf("terminalhandler: signal delivery failed: %v", err)
			}
		}
	}
}

// validDim reports whether v is in the accepted [1, max] range for a
// resize dimension. Out-of-range values are rejected outright — never
// clamped — so the PTY size is left untouched on an invalid request.
func validDim(v, max uint16) bool {
	return v >= 1 && v <= max
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, code string) {
	_ = wsjson(ctx, conn, wsprotocol.NewErrorMsg(code))
}

func (h *Handler) sendClosed(ctx context.Context, conn *websocket.Conn, code string, exitCode *int) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = wsjson(writeCtx, conn, wsprotocol.NewClosedMsg(code, exitCode))
}

func errToWireCode(err error) string {
	switch err.(type) {
	case *sessionmgr.NotFoundError:
		return wsprotocol.CodeNotFound
	case *sessionmgr.AlreadyFinishedError:
		return wsprotocol.CodeAlreadyFinished
	default:
		return wsprotocol.CodeSessionError
	}
}

// closeCodeFor maps a wire error code to one of the three close codes the
// subsystem ever sends: 1000 for a clean close, 4004 when the fatal reason
// is "no such session", 4000 for every other fatal condition.
func closeCodeFor(wireCode string) websocket.StatusCode {
	switch wireCode {
	case wsprotocol.CodeNotFound:
		return 4004
	default:
		return 4000
	}
}
