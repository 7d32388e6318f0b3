package presets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	shellwords "github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"github.com/user/termbroker/internal/sessionmgr"
)

var presetIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Registry loads Presets from a directory of YAML files on disk.
type Registry struct {
	dir     string
	mu      sync.RWMutex
	presets map[string]*Preset
}

// NewRegistry opens dir (creating it and seeding the embedded defaults if
// empty) and loads every *.yaml/*.yml file in it.
func NewRegistry(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("presets: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("presets: create dir: %w", err)
	}
	if err := ensureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{dir: dir, presets: make(map[string]*Preset)}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the named preset, or nil if it doesn't exist.
func (r *Registry) Get(id string) *Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[id]
	if !ok {
		return nil
	}
	return clonePreset(p)
}

// List returns every loaded preset, sorted by name then id.
func (r *Registry) List() []*Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Preset, 0, len(r.presets))
	for _, p := range r.presets {
		out = append(out, clonePreset(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Reload re-reads every preset file from disk, replacing the in-memory set.
func (r *Registry) Reload() error {
	loaded, err := loadDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.presets = loaded
	r.mu.Unlock()
	return nil
}

// Save validates and persists p as "<id>.yaml" under the registry dir.
func (r *Registry) Save(p *Preset) error {
	if p == nil {
		return errors.New("presets: preset is required")
	}
	clean := clonePreset(p)
	if err := validate(clean); err != nil {
		return err
	}
	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("presets: marshal %q: %w", clean.ID, err)
	}
	path := filepath.Join(r.dir, clean.ID+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("presets: write %q: %w", path, err)
	}
	r.mu.Lock()
	r.presets[clean.ID] = clean
	r.mu.Unlock()
	return nil
}

// ToSpawnSpec resolves the named preset into a sessionmgr.SpawnSpec, ready
// to hand to Manager.GetOrCreate. Rows and cols come from the preset;
// workDir is supplied here, and idle timeout, buffer size and grace are left
// for the caller to fill in.
func (r *Registry) ToSpawnSpec(id, workDir string) (sessionmgr.SpawnSpec, error) {
	p := r.Get(id)
	if p == nil {
		return sessionmgr.SpawnSpec{}, fmt.Errorf("presets: unknown preset %q", id)
	}
	argv, err := shellwords.Split(p.CommandLine)
	if err != nil {
		return sessionmgr.SpawnSpec{}, fmt.Errorf("presets: split command for %q: %w", id, err)
	}
	if len(argv) == 0 {
		return sessionmgr.SpawnSpec{}, fmt.Errorf("presets: empty command for %q", id)
	}
	return sessionmgr.SpawnSpec{
		Command: argv[0],
		Args:    argv[1:],
		Env:     append([]string(nil), p.Env...),
		WorkDir: workDir,
		Rows:    p.Rows,
		Cols:    p.Cols,
	}, nil
}

func loadDir(dir string) (map[string]*Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("presets: read dir: %w", err)
	}
	loaded := make(map[string]*Preset)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		p, err := loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := loaded[p.ID]; exists {
			return nil, fmt.Errorf("presets: duplicate id %q", p.ID)
		}
		loaded[p.ID] = p
	}
	return loaded, nil
}

func loadFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("presets: read %q: %w", path, err)
	}
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("presets: parse %q: %w", path, err)
	}
	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

func validate(p *Preset) error {
	if p == nil {
		return errors.New("presets: preset is required")
	}
	if !presetIDPattern.MatchString(p.ID) {
		return fmt.Errorf("presets: id %q must be lowercase alphanumeric with hyphens", p.ID)
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("presets: name is required")
	}
	if strings.TrimSpace(p.CommandLine) == "" {
		return errors.New("presets: command is required")
	}
	return nil
}

func clonePreset(p *Preset) *Preset {
	if p == nil {
		return nil
	}
	out := *p
	out.Env = append([]string(nil), p.Env...)
	return &out
}
