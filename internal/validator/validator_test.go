package validator

import "testing"

func TestSizeBoundary(t *testing.T) {
	ok := make([]byte, 2048)
	if err := Validate(ok, 2048); err != nil {
		t.Fatalf("2048 bytes should be accepted, got %v", err)
	}

	tooBig := make([]byte, 2049)
	err := Validate(tooBig, 2048)
	if err == nil {
		t.Fatal("2049 bytes should be rejected")
	}
	verr, ok2 := err.(*Error)
	if !ok2 || verr.Code != WireCode || verr.Reason != reasonOversize {
		t.Fatalf("expected OVERSIZE validation error, got %v", err)
	}
}

func TestControlBytesAllowed(t *testing.T) {
	chunk := []byte("ls\x03\x04\x7f")
	if err := Validate(chunk, 2048); err != nil {
		t.Fatalf("control bytes must be permitted, got %v", err)
	}
}

func TestUnterminatedOSCRejected(t *testing.T) {
	chunk := []byte("\x1b]0;evil title")
	err := Validate(chunk, 2048)
	if err == nil {
		t.Fatal("expected unterminated OSC to be rejected")
	}
	verr := err.(*Error)
	if verr.Reason != reasonUnsafeEscape {
		t.Fatalf("expected UNSAFE_ESCAPE, got %v", verr.Reason)
	}
}

func TestTerminatedOSCAllowed(t *testing.T) {
	withBEL := []byte("\x1b]0;title\x07rest")
	if err := Validate(withBEL, 2048); err != nil {
		t.Fatalf("BEL-terminated OSC should be allowed, got %v", err)
	}

	withST := []byte("\x1b]0;title\x1b\\rest")
	if err := Validate(withST, 2048); err != nil {
		t.Fatalf("ST-terminated OSC should be allowed, got %v", err)
	}
}

func TestBinaryInputPermitted(t *testing.T) {
	chunk := []byte{0x00, 0xff, 0x10, 0x81, 0x02}
	if err := Validate(chunk, 2048); err != nil {
		t.Fatalf("arbitrary binary input should be permitted, got %v", err)
	}
}

func TestDefaultMaxBytes(t *testing.T) {
	chunk := make([]byte, 2049)
	if err := Validate(chunk, 0); err == nil {
		t.Fatal("expected default cap of 2048 to reject 2049 bytes")
	}
}
