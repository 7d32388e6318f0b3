package presets

import "testing"

func TestNewRegistrySeedsDefaults(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := r.Get("claude-code"); got == nil {
		t.Fatal("expected default claude-code preset to be seeded")
	}
	if got := r.Get("shell"); got == nil {
		t.Fatal("expected default shell preset to be seeded")
	}
}

func TestToSpawnSpecSplitsCommandLine(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	spec, err := r.ToSpawnSpec("shell", "/tmp")
	if err != nil {
		t.Fatalf("ToSpawnSpec: %v", err)
	}
	if spec.Command != "/bin/bash" || len(spec.Args) != 1 || spec.Args[0] != "-l" {
		t.Fatalf("unexpected split: %+v", spec)
	}
	if spec.WorkDir != "/tmp" {
		t.Fatalf("expected WorkDir to be carried through, got %q", spec.WorkDir)
	}
}

func TestToSpawnSpecUnknownPreset(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.ToSpawnSpec("does-not-exist", ""); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestSavePersistsAndValidates(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if err := r.Save(&Preset{ID: "bad id", Name: "x", CommandLine: "y"}); err == nil {
		t.Fatal("expected validation error for invalid id")
	}

	p := &Preset{ID: "my-tool", Name: "My Tool", CommandLine: "echo hi"}
	if err := r.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := r.Get("my-tool"); got == nil || got.Name != "My Tool" {
		t.Fatalf("expected saved preset to be retrievable, got %+v", got)
	}

	// Reload from disk to confirm it was actually written.
	r2, err := NewRegistry(dir)
	if err != nil {
		t.Fatalf("reopen registry: %v", err)
	}
	if got := r2.Get("my-tool"); got == nil {
		t.Fatal("expected preset to survive a reload from disk")
	}
}
