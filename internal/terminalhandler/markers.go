package terminalhandler

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// lookbackWindow bounds how much trailing context is kept across chunks so
// a marker split across two PTY reads is still found, without scanning the
// whole stream on every chunk.
const lookbackWindow = 256

// checkpointMarkerRe and resumeTokenMarkerRe are intentionally permissive:
// the child process controls its own output, and a marker it never emits
// simply never fires. Capture group 1 is the token payload.
var (
	checkpointMarkerRe  = regexp.MustCompile(`\x00CHECKPOINT\x00`)
	resumeTokenMarkerRe = regexp.MustCompile(`\x00RESUME:([A-Za-z0-9_-]+)\x00`)
)

// markerScanner watches a stream of output chunks for embedded control
// markers using a bounded lookback tail, and separately carries over
// incomplete trailing UTF-8 sequences so decoded text frames never split a
// multi-byte rune across two WebSocket messages.
type markerScanner struct {
	tail    []byte // last lookbackWindow bytes seen, for marker boundary-straddling
	pending []byte // incomplete trailing UTF-8 bytes from the previous chunk
}

// scanResult reports what a chunk of raw PTY bytes decoded to and whether
// it contained any markers.
type scanResult struct {
	Text          string
	SawCheckpoint bool
	ResumeToken   string // "" if none seen in this chunk
}

// Feed decodes chunk as UTF-8 text (replacing invalid sequences, per the
// wire protocol's "valid UTF-8 text" requirement) and scans the
// concatenation of the stored tail and chunk for markers.
func (s *markerScanner) Feed(chunk []byte) scanResult {
	combined := append(s.pending, chunk...)

	complete, pending := splitIncompleteTail(combined)
	text := strings.ToValidUTF8(string(complete), "�")
	s.pending = append([]byte(nil), pending...)

	scanBuf := append(append([]byte(nil), s.tail...), chunk...)

	res := scanResult{Text: text}
	consumed := 0
	if loc := checkpointMarkerRe.FindIndex(scanBuf); loc != nil {
		res.SawCheckpoint = true
		consumed = loc[1]
	}
	if m := resumeTokenMarkerRe.FindSubmatchIndex(scanBuf); m != nil {
		res.ResumeToken = string(scanBuf[m[2]:m[3]])
		if m[1] > consumed {
			consumed = m[1]
		}
	}

	// Drop reported markers from the tail so the next chunk does not report
	// them again.
	s.tail = lastN(scanBuf[consumed:], lookbackWindow)
	return res
}

// splitIncompleteTail separates b into a complete portion safe to decode
// now and a pending portion that looks like the start of a multi-byte rune
// cut off by the chunk boundary. Genuinely invalid byte sequences (not just
// incomplete ones) are left in the complete portion, where the caller
// substitutes the UTF-8 replacement character for them.
func splitIncompleteTail(b []byte) (complete, pending []byte) {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			break // ASCII byte: no multi-byte sequence starts here
		}
		if !utf8.RuneStart(c) {
			continue // continuation byte, keep walking back
		}
		if !utf8.FullRune(b[len(b)-i:]) {
			return b[:len(b)-i], b[len(b)-i:]
		}
		break // complete, or genuinely invalid — leave for replacement
	}
	return b, nil
}

func lastN(b []byte, n int) []byte {
	if len(b) <= n {
		return append([]byte(nil), b...)
	}
	return append([]byte(nil), b[len(b)-n:]...)
}
