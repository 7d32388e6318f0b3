package configs

import "embed"

// DefaultPresets contains the shipped default spawn-spec preset files,
// seeded into a fresh presets directory on first run.
//
//go:embed presets/*.yaml
var DefaultPresets embed.FS
