package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/termbroker/configs"
)

var defaultPresetFiles = []string{
	"claude-code.yaml",
	"codex.yaml",
	"shell.yaml",
}

// ensureDefaults seeds dir with the embedded default presets the first time
// it's empty of any yaml files, mirroring the teacher's registry bootstrap.
func ensureDefaults(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("presets: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			return nil
		}
	}

	for _, file := range defaultPresetFiles {
		content, err := configs.DefaultPresets.ReadFile(filepath.Join("presets", file))
		if err != nil {
			return fmt.Errorf("presets: read embedded default %q: %w", file, err)
		}
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("presets: write default %q: %w", path, err)
		}
	}
	return nil
}
