package peer

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airrelay/internal/transport"
)

// Controller manages the controller side of the WebRTC connection.
type Controller struct {
	*session
	transport *transport.DataChannelTransport
}

// NewController creates a Controller peer manager for hostID.
func NewController(sig Signaler, hostID string, opts Options) (*Controller, error) {
	log := opts.logger().With("component", "controller_peer", "host", hostID)
	pc, err := NewPeerConnection(opts, log)
	if err != nil {
		return nil, err
	}

	dc, err := pc.CreateDataChannel(transport.FramesLabel, transport.FramesChannelInit())
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create frames channel: %w", err)
	}

	c := &Controller{
		session:   newSession(pc, sig, log),
		transport: transport.NewDataChannelTransport(dc, opts.MaxPayload, log),
	}
	c.setRemote(hostID)
	return c, nil
}

// Transport returns the DataChannelTransport frames arrive on.
func (c *Controller) Transport() *transport.DataChannelTransport {
	return c.transport
}

// Connect initiates the WebRTC connection by creating and sending an offer.
func (c *Controller) Connect() error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.sig.SendOffer(c.remoteID(), offerJSON)
}

// HandleAnswer processes an incoming SDP answer.
func (c *Controller) HandleAnswer(payload json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(payload, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return c.applyRemote(answer)
}

// HandleICECandidate adds a remote ICE candidate.
func (c *Controller) HandleICECandidate(payload json.RawMessage) error {
	return c.addCandidate(payload)
}

// Close shuts down the peer connection.
func (c *Controller) Close() error {
	return c.close()
}
