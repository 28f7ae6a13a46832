// Package peer drives the WebRTC side of the remote relay: the host answers
// offers and streams frames, the controller offers and receives them.
package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is the default ICE server configuration.
var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}},
}

// ICEServersFromURLs turns configured URLs into ICE servers, keeping the
// nil (defaults) versus empty (none) distinction.
func ICEServersFromURLs(urls []string) []webrtc.ICEServer {
	if urls == nil {
		return nil
	}
	if len(urls) == 0 {
		return []webrtc.ICEServer{}
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// Signaler is the part of the signaling client a peer needs.
type Signaler interface {
	SendOffer(target string, payload json.RawMessage) error
	SendAnswer(target string, payload json.RawMessage) error
	SendICECandidate(target string, payload json.RawMessage) error
}

// Options configures a peer.
type Options struct {
	ICEServers []webrtc.ICEServer
	MaxPayload uint32
	Logger     *slog.Logger

	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host relays.
	IncludeLoopback bool
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// NewPeerConnection creates a configured PeerConnection. A nil ICEServers
// slice selects DefaultICEServers; an empty one disables STUN.
func NewPeerConnection(opts Options, log *slog.Logger) (*webrtc.PeerConnection, error) {
	servers := opts.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state", "state", state.String())
	})
	return pc, nil
}

// session is the state shared by both ends: the remote party and the
// candidates that arrived before its description.
type session struct {
	pc  *webrtc.PeerConnection
	sig Signaler
	log *slog.Logger

	mu        sync.Mutex
	remote    string
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func newSession(pc *webrtc.PeerConnection, sig Signaler, log *slog.Logger) *session {
	s := &session{pc: pc, sig: sig, log: log}
	pc.OnICECandidate(s.sendCandidate)
	return s
}

func (s *session) setRemote(id string) {
	s.mu.Lock()
	s.remote = id
	s.mu.Unlock()
}

func (s *session) remoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

func (s *session) sendCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	target := s.remoteID()
	if target == "" {
		return
	}
	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		s.log.Warn("marshal ICE candidate", "err", err)
		return
	}
	if err := s.sig.SendICECandidate(target, data); err != nil {
		s.log.Warn("send ICE candidate", "err", err)
	}
}

// applyRemote sets the remote description and flushes queued candidates.
func (s *session) applyRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn("add queued ICE candidate", "err", err)
		}
	}
	return nil
}

// addCandidate adds a remote candidate, queueing it until the remote
// description is known.
func (s *session) addCandidate(payload json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &c); err != nil {
		return fmt.Errorf("decode ICE candidate: %w", err)
	}
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(c)
}

func (s *session) close() error {
	return s.pc.Close()
}
