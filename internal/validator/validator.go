// Package validator implements the stateless input-safety predicate the
// Terminal Handler runs over every inbound "input" message before it
// reaches the PTY. It never touches UTF-8 — binary input is permitted, and
// the familiar control bytes (Ctrl-C, EOF, ...) are explicitly allowed
// through, since signal delivery has its own message type.
package validator

import "fmt"

// WireCode is the single wire-level error code every validation failure
// maps to (see spec §6's error code enum).
const WireCode = "VALIDATION"

const (
	reasonOversize     = "OVERSIZE"
	reasonUnsafeEscape = "UNSAFE_ESCAPE"
)

// Error reports why validate() rejected a chunk. Reason is the detailed,
// internal-facing rule name; Code is always WireCode on the wire.
type Error struct {
	Code   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Code, e.Reason)
}

const (
	escOSCStart byte = 0x1b // ESC, followed by ']' begins an OSC sequence
	oscKind     byte = ']'
	bel         byte = 0x07 // BEL terminates an OSC sequence
)

// Validate vets a single inbound data chunk against the size cap and the
// unterminated-OSC denylist. All other bytes, including raw control
// characters such as 0x03 and 0x04, are permitted — terminal semantics
// require them, and deliberate signal delivery goes through the Signal
// message type instead of byte-sniffing.
func Validate(chunk []byte, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = 2048
	}
	if len(chunk) > maxBytes {
		return &Error{Code: WireCode, Reason: reasonOversize}
	}
	if hasUnterminatedOSC(chunk) {
		return &Error{Code: WireCode, Reason: reasonUnsafeEscape}
	}
	return nil
}

// hasUnterminatedOSC reports whether chunk contains an OSC sequence (ESC ])
// that is not terminated, within the same chunk, by BEL or the two-byte
// string terminator ESC \. An OSC sequence left open past the end of the
// chunk could be used to smuggle control over the client's terminal
// emulator (e.g. rewriting its window title or injecting further escape
// sequences across frame boundaries), so it is rejected outright rather
// than passed through partially.
func hasUnterminatedOSC(chunk []byte) bool {
	for i := 0; i+1 < len(chunk); i++ {
		if chunk[i] != escOSCStart || chunk[i+1] != oscKind {
			continue
		}
		if oscTerminatedFrom(chunk, i+2) {
			// This sequence is terminated; keep scanning for another OSC
			// that might start later in the same chunk.
			continue
		}
		return true
	}
	return false
}

func oscTerminatedFrom(chunk []byte, start int) bool {
	for j := start; j < len(chunk); j++ {
		if chunk[j] == bel {
			return true
		}
		if chunk[j] == escOSCStart && j+1 < len(chunk) && chunk[j+1] == '\\' {
			return true
		}
	}
	return false
}
