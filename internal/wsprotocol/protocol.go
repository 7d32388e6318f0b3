// Package wsprotocol defines the JSON wire messages exchanged between the
// Terminal Handler and a browser client, and the tagged-sum parser that
// turns an inbound frame into one concrete client message type.
//
// The client side of the protocol has exactly three shapes (input, resize,
// signal); the server side has four (output, status, error, closed). Each
// is its own Go type with its own json tags, dispatched on the "type"
// field, matching the style of the teacher's internal/hub/protocol.go
// rather than a single god-struct with every optional field.
package wsprotocol

import (
	"encoding/json"
	"fmt"
)

// Client message type tags.
const (
	TypeInput  = "input"
	TypeResize = "resize"
	TypeSignal = "signal"
)

// Server message type tags.
const (
	TypeOutput = "output"
	TypeStatus = "status"
	TypeError  = "error"
	TypeClosed = "closed"
)

// Wire error codes, matching the error taxonomy.
const (
	CodeNoSession       = "NO_SESSION"
	CodeInvalidID       = "INVALID_ID"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyFinished = "ALREADY_FINISHED"
	CodeSessionError    = "SESSION_ERROR"
	CodeSessionBusy     = "SESSION_BUSY"
	CodeValidation      = "VALIDATION"
	CodeInvalidMessage  = "INVALID_MESSAGE"
)

// envelope is used only to sniff the "type" tag before dispatching to a
// concrete struct.
type envelope struct {
	Type string `json:"type"`
}

// InputMsg carries text to write to the child's stdin. Data is plain JSON
// text, not base64 — the wire protocol never base64-encodes input.
type InputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ResizeMsg requests a new PTY window size.
type ResizeMsg struct {
	Type string `json:"type"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// SignalMsg requests a signal be delivered to the child's process group.
type SignalMsg struct {
	Type   string `json:"type"`
	Signal string `json:"signal"`
}

// ClientMsg is the result of parsing one inbound frame: exactly one of the
// three fields is non-nil, selected by the original "type" tag.
type ClientMsg struct {
	Input  *InputMsg
	Resize *ResizeMsg
	Signal *SignalMsg
}

// ParseClientMessage dispatches raw on its "type" tag into exactly one
// concrete client message, rather than reflecting over a shared struct.
func ParseClientMessage(raw []byte) (*ClientMsg, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("wsprotocol: %w", &InvalidMessageError{Detail: err.Error()})
	}

	switch env.Type {
	case TypeInput:
		var m InputMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &InvalidMessageError{Detail: err.Error()}
		}
		return &ClientMsg{Input: &m}, nil
	case TypeResize:
		var m ResizeMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &InvalidMessageError{Detail: err.Error()}
		}
		return &ClientMsg{Resize: &m}, nil
	case TypeSignal:
		var m SignalMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, &InvalidMessageError{Detail: err.Error()}
		}
		return &ClientMsg{Signal: &m}, nil
	default:
		return nil, &InvalidMessageError{Detail: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

// InvalidMessageError reports a frame that didn't parse as any known
// client message shape; it always maps to CodeInvalidMessage on the wire.
type InvalidMessageError struct{ Detail string }

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Detail)
}

// OutputMsg carries decoded PTY output text to the client.
type OutputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewOutputMsg builds a ready-to-marshal output frame.
func NewOutputMsg(data string) OutputMsg {
	return OutputMsg{Type: TypeOutput, Data: data}
}

// StatusMsg reports a connection/attachment lifecycle event: the handshake,
// a successful attach, or a checkpoint marker observed in the output
// stream. SessionID is nil until a Session has actually been resolved.
type StatusMsg struct {
	Type       string  `json:"type"`
	Connected  bool    `json:"connected"`
	SessionID  *string `json:"session_id"`
	Checkpoint bool    `json:"checkpoint,omitempty"`
}

// NewStatusMsg builds a ready-to-marshal status frame. sessionID is nil
// for the pre-attach handshake frame.
func NewStatusMsg(connected bool, sessionID *string, checkpoint bool) StatusMsg {
	return StatusMsg{Type: TypeStatus, Connected: connected, SessionID: sessionID, Checkpoint: checkpoint}
}

// ErrorMsg reports a recoverable protocol or validation failure — the
// connection is not necessarily closed after one of these.
type ErrorMsg struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// NewErrorMsg builds a ready-to-marshal error frame.
func NewErrorMsg(code string) ErrorMsg {
	return ErrorMsg{Type: TypeError, Code: code}
}

// ClosedMsg is the final frame sent before the connection closes, reporting
// why the Session ended.
type ClosedMsg struct {
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// NewClosedMsg builds a ready-to-marshal closed frame. code is "" for a
// clean child exit; exitCode is nil when the session never reached a
// process exit (e.g. the client disconnected while the child kept running).
func NewClosedMsg(code string, exitCode *int) ClosedMsg {
	return ClosedMsg{Type: TypeClosed, Code: code, ExitCode: exitCode}
}
