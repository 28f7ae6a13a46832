package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/junsooki/airrelay/internal/capture"
)

// JPEGDecoder decodes JPEG frames into *image.RGBA.
type JPEGDecoder struct{}

func NewJPEGDecoder() *JPEGDecoder {
	return &JPEGDecoder{}
}

func (d *JPEGDecoder) Decode(f *capture.Frame) (*image.RGBA, error) {
	if f.Format != capture.FormatJPEG {
		return nil, fmt.Errorf("%w: %s", capture.ErrUnsupportedFormat, f.Format)
	}
	img, err := jpeg.Decode(bytes.NewReader(f.Pixels))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if uint32(b.Dx()) != f.Width || uint32(b.Dy()) != f.Height {
		return nil, fmt.Errorf("jpeg is %dx%d, header says %dx%d", b.Dx(), b.Dy(), f.Width, f.Height)
	}
	// Convert to RGBA if needed.
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(b)
	draw.Draw(rgba, b, img, b.Min, draw.Src)
	return rgba, nil
}
