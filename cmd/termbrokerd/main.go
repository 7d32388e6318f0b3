// Command termbrokerd runs the interactive terminal session broker: it
// accepts token-authenticated WebSocket connections, spawns and brokers
// PTY-backed child processes per workspace key, and records a best-effort
// lifecycle audit log.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/user/termbroker/internal/config"
	"github.com/user/termbroker/internal/history"
	"github.com/user/termbroker/internal/presets"
	"github.com/user/termbroker/internal/server"
	"github.com/user/termbroker/internal/sessionmgr"
	"github.com/user/termbroker/internal/terminalhandler"
	"github.com/user/termbroker/internal/termsession"
)

var version = "0.1.0"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("termbrokerd v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	historyStore, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		slog.Error("failed to open history store", "path", cfg.HistoryDB, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := historyStore.Close(); err != nil {
			slog.Error("failed to close history store", "error", err)
		}
	}()

	presetRegistry, err := presets.NewRegistry(cfg.PresetsDir)
	if err != nil {
		slog.Error("failed to load presets", "dir", cfg.PresetsDir, "error", err)
		os.Exit(1)
	}

	hooks := sessionmgr.Hooks{
		OnSpawned: func(sess *termsession.Session, pid int) {
			historyStore.TrackSession(sess, pid)
		},
	}
	manager := sessionmgr.New(cfg.SweepInterval(), hooks)
	defer manager.Close()

	handler := terminalhandler.New(manager, terminalhandler.Limits{
		InputMaxBytes: cfg.InputMaxBytes,
		ResizeMaxDim:  uint16(cfg.ResizeMaxDim),
		SpawnDeadline: cfg.SpawnDeadline(),
	})

	resolveSpec := func(r *http.Request, key string) (*sessionmgr.SpawnSpec, error) {
		presetID := r.URL.Query().Get("preset")
		if presetID == "" {
			// No preset requested: attach-only, NOT_FOUND if nothing is running.
			return nil, nil
		}
		spec, err := presetRegistry.ToSpawnSpec(presetID, r.URL.Query().Get("workdir"))
		if err != nil {
			return nil, err
		}
		spec.BufferBytes = cfg.BufferBytes
		spec.IdleTimeout = cfg.IdleTimeout()
		spec.Grace = cfg.ChildGrace()
		return &spec, nil
	}

	srv := server.New(cfg, handler, resolveSpec)

	printStartupBanner(cfg)

	if err := srv.Start(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("termbrokerd stopped")
}

// printStartupBanner prints the access URL. Token-bearing lines are only
// emitted when stdout is an interactive terminal (not redirected into a log
// file or pipe), so a secret never lands in non-interactive output just
// because -print-token was left on in a service unit.
func printStartupBanner(cfg *config.Config) {
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	fmt.Printf("\ntermbrokerd v%s\n", version)
	fmt.Printf("  listening on: http://0.0.0.0:%d\n", cfg.Port)
	if cfg.PrintToken && interactive {
		fmt.Printf("  example URL:  ws://localhost:%d/<key>/terminal?token=%s&preset=shell\n", cfg.Port, cfg.Token)
	} else {
		fmt.Printf("  example URL:  ws://localhost:%d/<key>/terminal?token=<token>&preset=shell\n", cfg.Port)
		if !interactive {
			fmt.Printf("  (token redacted: stdout is not a terminal)\n")
		} else {
			fmt.Printf("  (use --print-token to reveal token)\n")
		}
	}
	fmt.Println("\nCtrl+C to stop")
}
