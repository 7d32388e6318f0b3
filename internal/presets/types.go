// Package presets implements named, YAML-configured spawn-spec templates —
// one concrete way a caller assembles the opaque spawn_spec the Session
// Manager takes, instead of inlining command/args/env on every call.
//
// Adapted from the teacher's internal/registry, which served the same
// "named agent config loaded from disk" role for its own orchestrator.
package presets

// Preset names a reusable child-process template. CommandLine is split into
// argv with shell-quote semantics (internal/presets/registry.go), so a
// preset author can write `claude --resume` instead of a pre-split argv.
type Preset struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	CommandLine string   `yaml:"command" json:"command"`
	Env         []string `yaml:"env,omitempty" json:"env,omitempty"`
	Rows        uint16   `yaml:"rows,omitempty" json:"rows,omitempty"`
	Cols        uint16   `yaml:"cols,omitempty" json:"cols,omitempty"`
}
