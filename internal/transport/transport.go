// Package transport carries segments between two peers over a WebRTC
// DataChannel and exposes the channel as a byte stream.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/1ureka/p2plink/internal/util"
	"github.com/pion/webrtc/v4"
)

// Transport wraps a single PeerConnection + DataChannel pair, providing a
// high-level API for signaling exchange, message writes with backpressure,
// and a byte-stream view of inbound messages.
//
// Its lifecycle is governed by the DataChannel state and the context passed
// at construction time. The PeerConnection state is recorded but does not
// drive open/close decisions.
type Transport struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	sender     *sender
	openSignal chan struct{}

	pr *io.PipeReader
	pw *io.PipeWriter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

// NewTransport creates a Transport backed by a new PeerConnection and a
// pre-negotiated DataChannel. The caller performs signaling via the exposed
// methods (CreateOffer / CreateAnswer / …) and then uses Write / Read.
//
// The Transport is considered alive as long as the DataChannel is open and
// ctx has not been cancelled.
func NewTransport(ctx context.Context, iceServers []string) (*Transport, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, err
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	tCtx, tCancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	t := &Transport{
		pc:         pc,
		dc:         dc,
		openSignal: make(chan struct{}),
		pr:         pr,
		pw:         pw,
		ctx:        tCtx,
		cancel:     tCancel,
		pcState:    webrtc.PeerConnectionStateNew,
	}

	// DC open gate.
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(t.openSignal) })
	})

	// DC close → end the stream and cancel the transport context.
	dc.OnClose(func() {
		util.LogDebug("DataChannel closed")
		pw.CloseWithError(io.EOF)
		tCancel()
	})

	// Messages are appended to the stream in arrival order. The callback blocks
	// until a reader consumes the data, which backs up the SCTP receive window.
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if _, err := pw.Write(msg.Data); err != nil {
			util.LogDebug("dropping %d inbound bytes: %v", len(msg.Data), err)
		}
	})

	// Record PC state (informational only).
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			pw.CloseWithError(io.EOF)
			tCancel()
		}
	})

	t.sender = newSender(tCtx, dc, t.openSignal)

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the DataChannel is open and
// the Transport is ready to send and receive.
func (t *Transport) Ready() <-chan struct{} {
	return t.openSignal
}

// Done returns a channel that is closed when the Transport is shut down
// (DataChannel closed or parent context cancelled).
func (t *Transport) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Alive reports whether the DataChannel has opened and not yet shut down.
func (t *Transport) Alive() bool {
	select {
	case <-t.openSignal:
	default:
		return false
	}
	return t.ctx.Err() == nil
}

// Close shuts down the stream, the DataChannel and the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()
	t.pr.CloseWithError(ErrClosed)
	return errors.Join(t.dc.Close(), t.pc.Close())
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	t.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Write sends p as one DataChannel message. It blocks while the channel's
// buffered amount is above the high-water mark. p may be reused once Write
// returns.
func (t *Transport) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	if err := t.sender.send(t.ctx, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read reads inbound bytes in arrival order. Message boundaries are not
// preserved; use io.ReadFull to read a fixed-size segment.
func (t *Transport) Read(p []byte) (int, error) {
	return t.pr.Read(p)
}
