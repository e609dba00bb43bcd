// Package signaling handles the WebSocket-based signaling phase: SDP/ICE
// exchange for new links and out-of-band connect and disconnect requests.
package signaling

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
	msgTypeConnect   messageType = "connect"

	msgTypeDisconnect    messageType = "disconnect"
	msgTypeDisconnectAck messageType = "disconnect_ack"
)

// message is the JSON structure exchanged over the WebSocket.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
	AdapterID int         `json:"adapterId,omitempty"`
}
