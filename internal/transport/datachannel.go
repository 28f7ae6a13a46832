package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/wire"
)

// FramesLabel is the label of the negotiated frames DataChannel.
const FramesLabel = "frames"

// FramesChannelID is the stream id both peers use for the negotiated channel.
const FramesChannelID uint16 = 0

// maxBuffered is how much unsent data may queue before frames are dropped.
const maxBuffered = 1 << 20

var (
	// ErrNotReady means the DataChannel is not open yet.
	ErrNotReady = errors.New("frames data channel not open")
	// ErrCongested means the channel is still flushing earlier frames.
	ErrCongested = errors.New("frames data channel congested")
)

// FramesChannelInit returns the options both peers use for the frames
// channel: negotiated out of band, unordered, no retransmits.
func FramesChannelInit() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	negotiated := true
	id := FramesChannelID
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	}
}

// EncodeMessage wraps one compressed frame in a DataChannel message.
func EncodeMessage(f *capture.Frame) []byte {
	return wire.Encode(f)
}

// DecodeMessage unwraps a DataChannel message. Each message holds exactly one frame.
func DecodeMessage(codec wire.Codec, data []byte) (*capture.Frame, error) {
	f, n, err := codec.TryDecode(data)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("truncated frame message: %d bytes", len(data))
	}
	if n != len(data) {
		return nil, fmt.Errorf("frame message has %d trailing bytes", len(data)-n)
	}
	return f, nil
}

// DataChannelTransport carries frames over a WebRTC DataChannel.
type DataChannelTransport struct {
	dc    *webrtc.DataChannel
	codec wire.Codec
	log   *slog.Logger

	mu      sync.Mutex
	onFrame func(f *capture.Frame)
}

// NewDataChannelTransport wraps the frames DataChannel.
func NewDataChannelTransport(dc *webrtc.DataChannel, maxPayload uint32, log *slog.Logger) *DataChannelTransport {
	if log == nil {
		log = slog.Default()
	}
	t := &DataChannelTransport{
		dc:    dc,
		codec: wire.Codec{MaxPayload: maxPayload},
		log:   log,
	}
	dc.OnOpen(func() {
		t.log.Info("frames data channel open")
	})
	dc.OnMessage(t.handleMessage)
	return t
}

func (t *DataChannelTransport) handleMessage(msg webrtc.DataChannelMessage) {
	f, err := DecodeMessage(t.codec, msg.Data)
	if err != nil {
		t.log.Warn("drop frame message", "err", err)
		return
	}
	t.mu.Lock()
	cb := t.onFrame
	t.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

// SendFrame sends one frame. Frames are dropped with ErrNotReady or
// ErrCongested rather than queued.
func (t *DataChannelTransport) SendFrame(f *capture.Frame) error {
	if t.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotReady
	}
	if t.dc.BufferedAmount() > maxBuffered {
		return ErrCongested
	}
	return t.dc.Send(EncodeMessage(f))
}

// OnFrame sets the callback for received frames.
func (t *DataChannelTransport) OnFrame(cb func(f *capture.Frame)) {
	t.mu.Lock()
	t.onFrame = cb
	t.mu.Unlock()
}
