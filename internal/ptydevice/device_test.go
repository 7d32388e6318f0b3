package ptydevice

import (
	"strings"
	"testing"
	"time"
)

func TestSpawnEchoAndRead(t *testing.T) {
	dev, err := Spawn(Spec{Command: "printf", Args: []string{"hello\n"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer dev.Close()

	buf := make([]byte, 4096)
	var got strings.Builder
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := dev.Read(buf)
		if n > 0 {
			got.Write(buf[:n])
		}
		if err != nil {
			break
		}
		if strings.Contains(got.String(), "hello") {
			break
		}
	}
	if !strings.Contains(got.String(), "hello") {
		t.Fatalf("expected output to contain %q, got %q", "hello", got.String())
	}
}

func TestSpawnEmptyCommand(t *testing.T) {
	if _, err := Spawn(Spec{}); err == nil {
		t.Fatal("expected error spawning with empty command")
	}
}

func TestWaitReturnsExitCode(t *testing.T) {
	dev, err := Spawn(Spec{Command: "sh", Args: []string{"-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer dev.Close()

	code := dev.Wait()
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	dev, err := Spawn(Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if !dev.IsClosed() {
		t.Fatal("expected IsClosed to report true")
	}
}

func TestResizeWithinBoundsSucceeds(t *testing.T) {
	dev, err := Spawn(Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer dev.Close()

	if err := dev.Resize(40, 100); err != nil {
		t.Fatalf("Resize: %v", err)
	}
}
