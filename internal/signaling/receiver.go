package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2plink/internal/transport"
)

// receiver applies inbound signaling messages to the transport. Candidates
// that arrive before the remote description are held until it is set.
type receiver struct {
	tr     *transport.Transport
	conn   *websocket.Conn
	sender *sender

	hasRemote bool
	pending   []webrtc.ICECandidateInit
}

// watch runs until the WebSocket is closed or a message cannot be applied.
func (r *receiver) watch() error {
	for {
		var msg message
		if err := r.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("failed to read WS message: %w", err)
		}

		switch msg.Type {
		case msgTypeOffer:
			if err := r.setRemote(webrtc.SDPTypeOffer, msg.SDP); err != nil {
				return err
			}
			if err := r.sender.sendAnswer(); err != nil {
				return err
			}

		case msgTypeAnswer:
			if err := r.setRemote(webrtc.SDPTypeAnswer, msg.SDP); err != nil {
				return err
			}

		case msgTypeCandidate:
			var init webrtc.ICECandidateInit
			if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
				return fmt.Errorf("failed to parse ICE candidate: %w", err)
			}
			if !r.hasRemote {
				r.pending = append(r.pending, init)
				continue
			}
			if err := r.tr.AddICECandidate(init); err != nil {
				return err
			}
		}
	}
}

func (r *receiver) setRemote(typ webrtc.SDPType, sdp string) error {
	if err := r.tr.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sdp}); err != nil {
		return err
	}
	r.hasRemote = true

	for _, init := range r.pending {
		if err := r.tr.AddICECandidate(init); err != nil {
			return err
		}
	}
	r.pending = nil
	return nil
}
