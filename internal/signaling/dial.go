package signaling

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// dial connects to the given WebSocket URL, e.g. ws://host:port/ws.
func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WS server: %w", err)
	}
	return conn, nil
}
