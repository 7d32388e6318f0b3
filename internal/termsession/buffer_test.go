package termsession

import "testing"

func TestReplayBufferBelowCapacity(t *testing.T) {
	rb := NewReplayBuffer(16)
	rb.Append([]byte("hello"))
	got := rb.Snapshot()
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
	if rb.Len() != 5 {
		t.Fatalf("expected len 5, got %d", rb.Len())
	}
}

func TestReplayBufferWrapsAndKeepsSuffix(t *testing.T) {
	rb := NewReplayBuffer(4)
	rb.Append([]byte("abcdef"))
	got := rb.Snapshot()
	if string(got) != "cdef" {
		t.Fatalf("expected contiguous suffix %q, got %q", "cdef", got)
	}
	if rb.Len() != 4 {
		t.Fatalf("expected len to saturate at capacity 4, got %d", rb.Len())
	}
}

func TestReplayBufferAppendAcrossCalls(t *testing.T) {
	rb := NewReplayBuffer(6)
	rb.Append([]byte("abc"))
	rb.Append([]byte("def"))
	rb.Append([]byte("gh"))
	got := rb.Snapshot()
	if string(got) != "cdefgh" {
		t.Fatalf("expected %q, got %q", "cdefgh", got)
	}
}

func TestReplayBufferDefaultCapacity(t *testing.T) {
	rb := NewReplayBuffer(0)
	if rb.Cap() != 256*1024 {
		t.Fatalf("expected default capacity, got %d", rb.Cap())
	}
}
