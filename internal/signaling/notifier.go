package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ackTimeout bounds the wait for a disconnect acknowledgement when ctx has
// no deadline.
const ackTimeout = 5 * time.Second

// Notifier sends out-of-band requests to a host's /control route.
type Notifier struct {
	URL string // e.g. ws://host:port/control
}

// RequestConnect tells the host that adapterID is about to connect.
func (n *Notifier) RequestConnect(ctx context.Context, adapterID int) error {
	conn, err := n.send(ctx, message{Type: msgTypeConnect, AdapterID: adapterID})
	if err != nil {
		return fmt.Errorf("failed to send connect request: %w", err)
	}
	return closeNormal(conn)
}

// RequestDisconnect tells the host that adapterID is being disconnected on
// purpose and waits for the host to acknowledge it.
func (n *Notifier) RequestDisconnect(ctx context.Context, adapterID int) error {
	conn, err := n.send(ctx, message{Type: msgTypeDisconnect, AdapterID: adapterID})
	if err != nil {
		return fmt.Errorf("failed to send disconnect request: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(ackTimeout)
	}
	conn.SetReadDeadline(deadline)

	var ack message
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return fmt.Errorf("no disconnect acknowledgement: %w", err)
	}
	if ack.Type != msgTypeDisconnectAck || ack.AdapterID != adapterID {
		conn.Close()
		return fmt.Errorf("unexpected reply %q for adapter %d", ack.Type, ack.AdapterID)
	}
	return closeNormal(conn)
}

// send dials the control route and writes msg.
func (n *Notifier) send(ctx context.Context, msg message) (*websocket.Conn, error) {
	conn, err := dial(ctx, n.URL)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(msg); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// closeNormal ends a control connection with a normal close frame.
func closeNormal(conn *websocket.Conn) error {
	defer conn.Close()
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
