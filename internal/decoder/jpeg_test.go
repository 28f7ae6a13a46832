package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/junsooki/airrelay/internal/capture"
)

func TestJPEGDecoder_RejectsRawFrames(t *testing.T) {
	_, err := NewJPEGDecoder().Decode(&capture.Frame{Format: capture.FormatBGRA})
	assert.ErrorIs(t, err, capture.ErrUnsupportedFormat)
}

func TestJPEGDecoder_Garbage(t *testing.T) {
	_, err := NewJPEGDecoder().Decode(&capture.Frame{Width: 1, Height: 1, Format: capture.FormatJPEG, Pixels: []byte("nope")})
	assert.Error(t, err)
}
