package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/p2plink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrServerClosed is returned by WaitForPeer after Close.
var ErrServerClosed = errors.New("signaling: server closed")

// ConnectFunc handles an out-of-band connect request for an adapter.
type ConnectFunc func(adapterID int)

// DisconnectFunc handles a peer's notice that it is disconnecting an adapter
// on purpose. The request is acknowledged once it returns.
type DisconnectFunc func(adapterID int)

// Server is the host-side WebSocket server. /ws accepts one peer at a time
// for SDP/ICE exchange while discoverable; /control accepts connect and
// disconnect requests at any time.
type Server struct {
	listener net.Listener
	http     *http.Server
	connCh   chan *websocket.Conn
	closed   chan struct{}

	mu           sync.Mutex
	discoverable bool
	onConnect    ConnectFunc
	onDisconnect DisconnectFunc
	closeOnce    sync.Once
}

// Listen starts a signaling server on addr (":0" picks a free port).
func Listen(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	s := &Server{
		listener: listener,
		connCh:   make(chan *websocket.Conn, 1),
		closed:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/control", s.handleControl)
	s.http = &http.Server{Handler: mux}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("signaling server stopped: %v", err)
		}
	}()

	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// SetDiscoverable controls whether /ws accepts peers.
func (s *Server) SetDiscoverable(on bool) {
	s.mu.Lock()
	s.discoverable = on
	s.mu.Unlock()
}

// Discoverable reports whether /ws currently accepts peers.
func (s *Server) Discoverable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoverable
}

// OnConnectRequest registers the handler for /control connect requests,
// replacing any previous one.
func (s *Server) OnConnectRequest(fn ConnectFunc) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// OnDisconnectRequest registers the handler for /control disconnect
// requests, replacing any previous one.
func (s *Server) OnDisconnectRequest(fn DisconnectFunc) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.Discoverable() {
		http.Error(w, "not discoverable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Only accept one waiting peer.
	select {
	case s.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		s.mu.Lock()
		onConnect, onDisconnect := s.onConnect, s.onDisconnect
		s.mu.Unlock()

		switch msg.Type {
		case msgTypeConnect:
			util.LogDebug("connect request for adapter %d", msg.AdapterID)
			if onConnect != nil {
				onConnect(msg.AdapterID)
			}
		case msgTypeDisconnect:
			util.LogDebug("peer is disconnecting adapter %d", msg.AdapterID)
			if onDisconnect != nil {
				onDisconnect(msg.AdapterID)
			}
			ack := message{Type: msgTypeDisconnectAck, AdapterID: msg.AdapterID}
			if err := conn.WriteJSON(ack); err != nil {
				util.LogWarning("failed to acknowledge disconnect of adapter %d: %v", msg.AdapterID, err)
				return
			}
		default:
			util.LogWarning("ignoring control message of type %q", msg.Type)
		}
	}
}

// WaitForPeer blocks until a peer connects to /ws, ctx ends or the server
// is closed.
func (s *Server) WaitForPeer(ctx context.Context) (*websocket.Conn, error) {
	select {
	case conn := <-s.connCh:
		return conn, nil
	case <-s.closed:
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting connections and unblocks WaitForPeer.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.http.Close()
	})
	return err
}
