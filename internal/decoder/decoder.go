package decoder

import (
	"image"

	"github.com/junsooki/airrelay/internal/capture"
)

// Decoder turns a compressed frame back into pixels.
type Decoder interface {
	Decode(f *capture.Frame) (*image.RGBA, error)
}
