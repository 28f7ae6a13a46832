package encoder

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/junsooki/airrelay/internal/capture"
)

// JPEGEncoder turns packed 32-bit frames into JPEG frames.
type JPEGEncoder struct {
	mu      sync.Mutex
	quality int
}

// NewJPEGEncoder creates a JPEG encoder with the given quality (1-100).
func NewJPEGEncoder(quality int) *JPEGEncoder {
	e := &JPEGEncoder{}
	e.SetQuality(quality)
	return e
}

// SetQuality clamps quality to 1-100.
func (e *JPEGEncoder) SetQuality(quality int) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	e.mu.Lock()
	e.quality = quality
	e.mu.Unlock()
}

// Encode returns a JPEG frame with the same size and timestamp as f.
func (e *JPEGEncoder) Encode(f *capture.Frame) (*capture.Frame, error) {
	img, err := capture.ToRGBA(f)
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}

	e.mu.Lock()
	q := e.quality
	e.mu.Unlock()

	var buf bytes.Buffer
	buf.Grow(256 * 1024) // pre-allocate 256KB
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return &capture.Frame{
		Width:     f.Width,
		Height:    f.Height,
		Format:    capture.FormatJPEG,
		Timestamp: f.Timestamp,
		Pixels:    buf.Bytes(),
	}, nil
}
