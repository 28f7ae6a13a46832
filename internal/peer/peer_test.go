package peer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/airrelay/internal/capture"
)

// loopback routes signaling between a host and a controller in-process.
type loopback struct {
	mu   sync.Mutex
	host *Host
	ctrl *Controller
	sent []string
}

func (l *loopback) record(kind string) {
	l.mu.Lock()
	l.sent = append(l.sent, kind)
	l.mu.Unlock()
}

func (l *loopback) SendOffer(target string, payload json.RawMessage) error {
	l.record("offer")
	go l.host.HandleOffer("ctrl-1", payload)
	return nil
}

func (l *loopback) SendAnswer(target string, payload json.RawMessage) error {
	l.record("answer")
	go l.ctrl.HandleAnswer(payload)
	return nil
}

func (l *loopback) SendICECandidate(target string, payload json.RawMessage) error {
	l.record("candidate")
	if target == "host-1" {
		go l.host.HandleICECandidate(payload)
	} else {
		go l.ctrl.HandleICECandidate(payload)
	}
	return nil
}

func testOptions() Options {
	return Options{ICEServers: []webrtc.ICEServer{}, IncludeLoopback: true}
}

func TestCandidateQueuedUntilRemoteDescription(t *testing.T) {
	h, err := NewHost(&loopback{}, testOptions())
	require.NoError(t, err)
	defer h.Close()

	c, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"})
	require.NoError(t, err)
	require.NoError(t, h.HandleICECandidate(c))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.pending, 1)
	assert.False(t, h.remoteSet)
}

func TestHandleICECandidate_BadPayload(t *testing.T) {
	h, err := NewHost(&loopback{}, testOptions())
	require.NoError(t, err)
	defer h.Close()

	assert.Error(t, h.HandleICECandidate(json.RawMessage(`{`)))
}

func TestHandleOffer_BadPayload(t *testing.T) {
	h, err := NewHost(&loopback{}, testOptions())
	require.NoError(t, err)
	defer h.Close()

	assert.Error(t, h.HandleOffer("ctrl-1", json.RawMessage(`"nope"`)))
	assert.Equal(t, "ctrl-1", h.Controller())
}

func TestHostToControllerFrames(t *testing.T) {
	if testing.Short() {
		t.Skip("needs ICE over loopback")
	}
	sig := &loopback{}
	h, err := NewHost(sig, testOptions())
	require.NoError(t, err)
	defer h.Close()
	ctrl, err := NewController(sig, "host-1", testOptions())
	require.NoError(t, err)
	defer ctrl.Close()
	sig.host, sig.ctrl = h, ctrl

	got := make(chan *capture.Frame, 16)
	ctrl.Transport().OnFrame(func(f *capture.Frame) { got <- f })

	require.NoError(t, ctrl.Connect())

	want := &capture.Frame{Width: 2, Height: 2, Format: capture.FormatJPEG, Timestamp: 42, Pixels: []byte{0xff, 0xd8, 0xff, 0xd9}}
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case f := <-got:
			assert.Equal(t, want, f)
			return
		case <-tick.C:
			_ = h.Transport().SendFrame(want)
		case <-deadline:
			t.Fatal("no frame reached the controller")
		}
	}
}

func TestICEServersFromURLs(t *testing.T) {
	assert.Nil(t, ICEServersFromURLs(nil))
	assert.Empty(t, ICEServersFromURLs([]string{}))
	assert.NotNil(t, ICEServersFromURLs([]string{}))
	assert.Equal(t, []webrtc.ICEServer{{URLs: []string{"stun:a:1"}}}, ICEServersFromURLs([]string{"stun:a:1"}))
}
