package terminalhandler

import "testing"

func TestScannerCarriesOverIncompleteRune(t *testing.T) {
	var s markerScanner

	euro := []byte("\xe2\x82\xac") // "€" split across two chunks
	r1 := s.Feed(euro[:2])
	if r1.Text != "" {
		t.Fatalf("expected no text yet, got %q", r1.Text)
	}
	r2 := s.Feed(euro[2:])
	if r2.Text != "€" {
		t.Fatalf("expected completed rune, got %q", r2.Text)
	}
}

func TestScannerReplacesInvalidBytes(t *testing.T) {
	var s markerScanner
	res := s.Feed([]byte{'a', 0xff, 'b'})
	if res.Text != "a�b" {
		t.Fatalf("expected replacement character, got %q", res.Text)
	}
}

func TestScannerDetectsCheckpointAcrossChunks(t *testing.T) {
	var s markerScanner
	marker := "\x00CHECKPOINT\x00"
	half := len(marker) / 2

	r1 := s.Feed([]byte(marker[:half]))
	if r1.SawCheckpoint {
		t.Fatal("should not see checkpoint before it's complete")
	}
	r2 := s.Feed([]byte(marker[half:]))
	if !r2.SawCheckpoint {
		t.Fatal("expected checkpoint marker split across chunks to be detected")
	}
}

func TestScannerExtractsResumeToken(t *testing.T) {
	var s markerScanner
	res := s.Feed([]byte("prefix\x00RESUME:abc123\x00suffix"))
	if res.ResumeToken != "abc123" {
		t.Fatalf("expected resume token %q, got %q", "abc123", res.ResumeToken)
	}
}

func TestScannerNoMarkerByDefault(t *testing.T) {
	var s markerScanner
	res := s.Feed([]byte("just normal output\n"))
	if res.SawCheckpoint || res.ResumeToken != "" {
		t.Fatalf("expected no markers, got %+v", res)
	}
}
