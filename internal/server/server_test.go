package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/termbroker/internal/config"
	"github.com/user/termbroker/internal/sessionmgr"
	"github.com/user/termbroker/internal/terminalhandler"
)

func newTestServer(t *testing.T, token string, resolveSpec ResolveSpawnSpec) *httptest.Server {
	t.Helper()
	mgr := sessionmgr.New(time.Hour, sessionmgr.Hooks{})
	t.Cleanup(mgr.Close)
	h := terminalhandler.New(mgr, terminalhandler.Limits{})
	cfg := &config.Config{Token: token}
	srv := New(cfg, h, resolveSpec)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	ts := newTestServer(t, "secret", nil)

	resp, err := http.Get(ts.URL + "/ws-1/terminal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "secret", nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthorizedUpgradeIsAccepted(t *testing.T) {
	resolve := func(r *http.Request, key string) (*sessionmgr.SpawnSpec, error) {
		return &sessionmgr.SpawnSpec{Command: "cat", IdleTimeout: time.Hour}, nil
	}
	ts := newTestServer(t, "secret", resolve)

	url := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws-1/terminal?token=secret"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("expected an initial frame, got error: %v", err)
	}
}
