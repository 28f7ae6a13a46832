// Package signaling is the WebSocket client used to exchange SDP and ICE
// candidates between a relay host and its controllers.
package signaling

import "encoding/json"

// MessageType names a signaling message on the wire.
type MessageType string

const (
	TypeRegister         MessageType = "register"
	TypeRegistered       MessageType = "registered"
	TypeListHosts        MessageType = "list-hosts"
	TypeHosts            MessageType = "hosts"
	TypeHostsUpdated     MessageType = "hosts-updated"
	TypeOffer            MessageType = "offer"
	TypeAnswer           MessageType = "answer"
	TypeICECandidate     MessageType = "ice-candidate"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeError            MessageType = "error"
	TypeHostDisconnected MessageType = "host-disconnected"
)

// Relayed reports whether the server forwards this type between peers
// rather than answering it itself.
func (t MessageType) Relayed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// ClientType distinguishes host from controller.
const (
	ClientTypeHost       = "host"
	ClientTypeController = "controller"
)

// Message is the envelope for all signaling messages. Relayed messages
// carry Target when sent and From when received.
type Message struct {
	Type       MessageType     `json:"type"`
	ID         string          `json:"id,omitempty"`
	ClientType string          `json:"clientType,omitempty"`
	From       string          `json:"from,omitempty"`
	Target     string          `json:"target,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	List       []HostInfo      `json:"list,omitempty"`
	HostID     string          `json:"hostId,omitempty"`
	Msg        string          `json:"message,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
}

// HostInfo describes a host in the host list.
type HostInfo struct {
	ID     string `json:"id"`
	Online bool   `json:"online"`
}
