package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airrelay/internal/transport"
)

// Host manages the host side of the WebRTC connection.
type Host struct {
	*session
	transport *transport.DataChannelTransport
}

// NewHost creates a Host peer manager.
func NewHost(sig Signaler, opts Options) (*Host, error) {
	log := opts.logger().With("component", "host_peer")
	pc, err := NewPeerConnection(opts, log)
	if err != nil {
		return nil, err
	}

	// The frames channel is negotiated out of band, so it exists before the
	// offer arrives and the controller creates the matching one.
	dc, err := pc.CreateDataChannel(transport.FramesLabel, transport.FramesChannelInit())
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create frames channel: %w", err)
	}

	return &Host{
		session:   newSession(pc, sig, log),
		transport: transport.NewDataChannelTransport(dc, opts.MaxPayload, log),
	}, nil
}

// Transport returns the DataChannelTransport frames are sent on.
func (h *Host) Transport() *transport.DataChannelTransport {
	return h.transport
}

// Controller returns the id of the controller that sent the last offer.
func (h *Host) Controller() string {
	return h.remoteID()
}

// HandleOffer processes an incoming offer from a controller.
func (h *Host) HandleOffer(from string, payload json.RawMessage) error {
	h.setRemote(from)

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := h.applyRemote(offer); err != nil {
		return err
	}

	answer, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := h.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	answerJSON, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return h.sig.SendAnswer(from, answerJSON)
}

// HandleICECandidate adds a remote ICE candidate.
func (h *Host) HandleICECandidate(payload json.RawMessage) error {
	return h.addCandidate(payload)
}

// Close shuts down the peer connection.
func (h *Host) Close() error {
	return h.close()
}
