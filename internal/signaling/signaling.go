package signaling

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2plink/internal/transport"
	"github.com/1ureka/p2plink/internal/util"
)

// readyGrace bounds the wait for the DataChannel after the peer has closed
// the WebSocket.
const readyGrace = 5 * time.Second

// EstablishAsHost executes the host-side signaling flow:
//  1. Wait for a peer on the server's /ws route
//  2. Create a Transport
//  3. Send the Offer and exchange ICE candidates
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection and return the ready Transport
func EstablishAsHost(ctx context.Context, srv *Server, iceServers []string) (*transport.Transport, error) {
	wsConn, err := srv.WaitForPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for peer: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("peer connected: %s", wsConn.RemoteAddr())

	return exchange(ctx, wsConn, iceServers, true)
}

// EstablishAsClient executes the client-side signaling flow:
//  1. Connect to the host's /ws route
//  2. Create a Transport
//  3. Answer the host's Offer and exchange ICE candidates
//  4. Wait for the DataChannel to be ready
//  5. Close the WS connection and return the ready Transport
func EstablishAsClient(ctx context.Context, wsURL string, iceServers []string) (*transport.Transport, error) {
	wsConn, err := dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("WS connected: %s", wsURL)

	return exchange(ctx, wsConn, iceServers, false)
}

// exchange runs SDP/ICE over wsConn until the DataChannel opens. The offering
// side sends first.
func exchange(ctx context.Context, wsConn *websocket.Conn, iceServers []string, offer bool) (*transport.Transport, error) {
	// The transport outlives this call, so it is not bound to ctx.
	tr, err := transport.NewTransport(context.WithoutCancel(ctx), iceServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create Transport: %w", err)
	}

	s := &sender{tr: tr, conn: wsConn}
	r := &receiver{tr: tr, conn: wsConn, sender: s}

	tr.OnICECandidate(s.sendCandidate)

	// Exits when wsConn is closed by the caller.
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.watch()
	}()

	if offer {
		if err := s.sendOffer(); err != nil {
			tr.Close()
			return nil, fmt.Errorf("failed to send Offer: %w", err)
		}
	}

	select {
	case <-tr.Ready():
		util.LogDebug("WebRTC DataChannel established, closing WS")
		return tr, nil

	case err := <-errCh:
		// The peer closes the WS as soon as its side is ready, which may be
		// slightly ahead of ours.
		select {
		case <-tr.Ready():
			return tr, nil
		case <-ctx.Done():
		case <-time.After(readyGrace):
		}
		tr.Close()
		return nil, fmt.Errorf("signaling failed: %w", err)

	case <-ctx.Done():
		tr.Close()
		return nil, ctx.Err()
	}
}
