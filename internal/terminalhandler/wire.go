package terminalhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"nhooyr.io/websocket"
)

// wsjson marshals v and writes it as a single text frame, mirroring the
// teacher's writePump which always writes pre-marshaled JSON as
// websocket.MessageText.
func wsjson(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("terminalhandler: marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
