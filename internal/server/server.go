// Package server wires the HTTP surface: a token-authenticated WebSocket
// route per workspace key, backed by internal/terminalhandler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/termbroker/internal/config"
	"github.com/user/termbroker/internal/sessionmgr"
	"github.com/user/termbroker/internal/terminalhandler"
)

// ResolveSpawnSpec extracts a spawn spec from an incoming request, or
// returns (nil, nil) if the caller only wants to attach to an existing
// session (a nil spec makes the handler NOT_FOUND instead of spawning).
type ResolveSpawnSpec func(r *http.Request, key string) (*sessionmgr.SpawnSpec, error)

type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

// New builds the HTTP server around a single route: the terminal
// WebSocket upgrade for a workspace key, gated by the configured token.
func New(cfg *config.Config, handler *terminalhandler.Handler, resolveSpec ResolveSpawnSpec) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{key}/terminal", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" || token != cfg.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		key := r.PathValue("key")

		var spec *sessionmgr.SpawnSpec
		if resolveSpec != nil {
			var err error
			spec, err = resolveSpec(r, key)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			slog.Warn("websocket accept failed", "workspace_key", key, "error", err)
			return
		}

		if err := handler.Run(r.Context(), conn, key, spec); err != nil {
			slog.Debug("terminal handler exited", "workspace_key", key, "error", err)
		}
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.Port),
			Handler: mux,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
