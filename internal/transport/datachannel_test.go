package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/wire"
)

func jpegFrame() *capture.Frame {
	return &capture.Frame{Width: 320, Height: 240, Format: capture.FormatJPEG, Timestamp: 1234, Pixels: []byte{0xff, 0xd8, 1, 2, 3, 0xff, 0xd9}}
}

func TestMessageRoundTrip(t *testing.T) {
	f := jpegFrame()
	got, err := DecodeMessage(wire.Codec{}, EncodeMessage(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeMessage_Truncated(t *testing.T) {
	msg := EncodeMessage(jpegFrame())
	_, err := DecodeMessage(wire.Codec{}, msg[:len(msg)-1])
	assert.ErrorContains(t, err, "truncated")
}

func TestDecodeMessage_Trailing(t *testing.T) {
	msg := append(EncodeMessage(jpegFrame()), 0)
	_, err := DecodeMessage(wire.Codec{}, msg)
	assert.ErrorContains(t, err, "trailing")
}

func TestDecodeMessage_Oversized(t *testing.T) {
	_, err := DecodeMessage(wire.Codec{MaxPayload: 4}, EncodeMessage(jpegFrame()))
	assert.ErrorIs(t, err, wire.ErrCorruptStream)
}

func TestFramesChannelInit(t *testing.T) {
	opts := FramesChannelInit()
	require.NotNil(t, opts.Negotiated)
	assert.True(t, *opts.Negotiated)
	assert.Equal(t, FramesChannelID, *opts.ID)
	assert.False(t, *opts.Ordered)
	assert.Equal(t, uint16(0), *opts.MaxRetransmits)
}
