// Package config loads termbrokerd's configuration from a flag set layered
// over a simple Key=Value file, following the teacher's internal/config.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds every tunable named in the subsystem's configuration
// surface: network/auth, buffer and timeout sizing, and on-disk paths.
type Config struct {
	Port       int
	Token      string
	ConfigPath string
	PrintToken bool

	PresetsDir string
	HistoryDB  string

	BufferBytes          int
	IdleTimeoutSeconds   int
	SweepIntervalSeconds int
	InputMaxBytes        int
	ResizeMaxDim         int
	ChildGraceSeconds    int
	SpawnDeadlineSeconds int
}

// IdleTimeout returns IdleTimeoutSeconds as a time.Duration.
func (c *Config) IdleTimeout() time.Duration { return time.Duration(c.IdleTimeoutSeconds) * time.Second }

// SweepInterval returns SweepIntervalSeconds as a time.Duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ChildGrace returns ChildGraceSeconds as a time.Duration.
func (c *Config) ChildGrace() time.Duration { return time.Duration(c.ChildGraceSeconds) * time.Second }

// SpawnDeadline returns SpawnDeadlineSeconds as a time.Duration.
func (c *Config) SpawnDeadline() time.Duration {
	return time.Duration(c.SpawnDeadlineSeconds) * time.Second
}

// Load builds the default Config, overlays any existing config file, then
// overlays flags, generating and persisting an auth token on first run.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("config: home directory: %w", err)
	}

	cfg := &Config{
		Port:                 7890,
		ConfigPath:           filepath.Join(homeDir, ".config", "termbroker", "config"),
		PresetsDir:           filepath.Join(homeDir, ".config", "termbroker", "presets"),
		HistoryDB:            filepath.Join(homeDir, ".config", "termbroker", "history.db"),
		BufferBytes:          64 * 1024,
		IdleTimeoutSeconds:   300,
		SweepIntervalSeconds: 60,
		InputMaxBytes:        2048,
		ResizeMaxDim:         500,
		ChildGraceSeconds:    2,
		SpawnDeadlineSeconds: 10,
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load file: %w", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.StringVar(&cfg.PresetsDir, "presets-dir", cfg.PresetsDir, "directory for spawn-spec preset YAML files")
	flag.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "path to the session-lifecycle audit log")
	flag.IntVar(&cfg.BufferBytes, "buffer-bytes", cfg.BufferBytes, "replay buffer capacity per session, in bytes")
	flag.IntVar(&cfg.IdleTimeoutSeconds, "idle-timeout-seconds", cfg.IdleTimeoutSeconds, "seconds an unattached session may sit idle before being swept")
	flag.IntVar(&cfg.SweepIntervalSeconds, "sweep-interval-seconds", cfg.SweepIntervalSeconds, "how often the idle sweeper runs")
	flag.IntVar(&cfg.InputMaxBytes, "input-max-bytes", cfg.InputMaxBytes, "maximum bytes accepted per input message")
	flag.IntVar(&cfg.ResizeMaxDim, "resize-max-dim", cfg.ResizeMaxDim, "maximum rows/cols accepted in a resize message")
	flag.IntVar(&cfg.ChildGraceSeconds, "child-grace-seconds", cfg.ChildGraceSeconds, "seconds to wait after SIGTERM before SIGKILL")
	flag.IntVar(&cfg.SpawnDeadlineSeconds, "spawn-deadline-seconds", cfg.SpawnDeadlineSeconds, "seconds allowed for a child process to spawn")
	flag.BoolVar(&cfg.PrintToken, "print-token", false, "print the auth token to stdout (for local debugging)")
	flag.Parse()

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: invalid port %d: must be between 1 and 65535", cfg.Port)
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("config: generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("config: save file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key, value := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		switch key {
		case "Token":
			c.Token = value
		case "Port":
			if _, err := fmt.Sscanf(value, "%d", &c.Port); err != nil {
				return fmt.Errorf("invalid Port value %q: %w", value, err)
			}
		case "PresetsDir":
			c.PresetsDir = value
		case "HistoryDB":
			c.HistoryDB = value
		case "BufferBytes":
			fmt.Sscanf(value, "%d", &c.BufferBytes)
		case "IdleTimeoutSeconds":
			fmt.Sscanf(value, "%d", &c.IdleTimeoutSeconds)
		case "SweepIntervalSeconds":
			fmt.Sscanf(value, "%d", &c.SweepIntervalSeconds)
		case "InputMaxBytes":
			fmt.Sscanf(value, "%d", &c.InputMaxBytes)
		case "ResizeMaxDim":
			fmt.Sscanf(value, "%d", &c.ResizeMaxDim)
		case "ChildGraceSeconds":
			fmt.Sscanf(value, "%d", &c.ChildGraceSeconds)
		case "SpawnDeadlineSeconds":
			fmt.Sscanf(value, "%d", &c.SpawnDeadlineSeconds)
		}
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data := fmt.Sprintf(
		"Port=%d\nToken=%s\nPresetsDir=%s\nHistoryDB=%s\nBufferBytes=%d\nIdleTimeoutSeconds=%d\nSweepIntervalSeconds=%d\nInputMaxBytes=%d\nResizeMaxDim=%d\nChildGraceSeconds=%d\nSpawnDeadlineSeconds=%d\n",
		c.Port, c.Token, c.PresetsDir, c.HistoryDB, c.BufferBytes, c.IdleTimeoutSeconds,
		c.SweepIntervalSeconds, c.InputMaxBytes, c.ResizeMaxDim, c.ChildGraceSeconds, c.SpawnDeadlineSeconds,
	)
	return os.WriteFile(c.ConfigPath, []byte(data), 0o600)
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
