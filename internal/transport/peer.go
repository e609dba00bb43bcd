package transport

import (
	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are used when no ICE servers are configured. STUN only:
// links are expected to be direct.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection using the given ICE servers.
// A nil list selects DefaultICEServers; an empty one gathers host candidates
// only.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	if iceServers == nil {
		iceServers = DefaultICEServers
	}
	var config webrtc.Configuration
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return webrtc.NewPeerConnection(config)
}

// newDataChannel creates a pre-negotiated, ordered and reliable DataChannel.
// Negotiated mode (ID 0) lets both sides create the channel independently
// without relying on OnDataChannel. Segments carry no reassembly metadata, so
// delivery must be in order and complete.
func newDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := true
	negotiated := true
	id := uint16(0)

	return pc.CreateDataChannel("segments", &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
}
