package capture

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrUnsupportedFormat is returned when a frame cannot be converted to RGBA.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// PixelFormat is the FourCC tag carried in every frame header.
type PixelFormat uint32

const (
	FormatBGRA PixelFormat = 'B'<<24 | 'G'<<16 | 'R'<<8 | 'A' // 32BGRA, the broadcast extension default
	FormatRGBA PixelFormat = 'R'<<24 | 'G'<<16 | 'B'<<8 | 'A'
	FormatNV12 PixelFormat = '4'<<24 | '2'<<16 | '0'<<8 | 'f' // bi-planar full range 4:2:0
	FormatJPEG PixelFormat = 'J'<<24 | 'P'<<16 | 'E'<<8 | 'G' // compressed, used on the remote relay
)

func (p PixelFormat) String() string {
	switch p {
	case FormatBGRA:
		return "BGRA"
	case FormatRGBA:
		return "RGBA"
	case FormatNV12:
		return "NV12"
	case FormatJPEG:
		return "JPEG"
	default:
		return fmt.Sprintf("PixelFormat(0x%08x)", uint32(p))
	}
}

// BytesPerPixel returns the packed pixel size, or 0 for planar and compressed formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatBGRA, FormatRGBA:
		return 4
	default:
		return 0
	}
}

// Frame is one video frame: a raw pixel buffer plus its metadata.
type Frame struct {
	Width     uint32
	Height    uint32
	Format    PixelFormat
	Timestamp int64 // nanoseconds, monotonic on the sending side
	Pixels    []byte
}

// Time returns the frame timestamp as a duration since the sender's clock origin.
func (f *Frame) Time() time.Duration {
	return time.Duration(f.Timestamp)
}

// Delegate is the capture pipeline that consumes frames.
type Delegate interface {
	OnFrame(frame *Frame)
	OnCaptureError(err error)
}

// Source is anything that can be started and stopped as a capture source.
type Source interface {
	StartCapture() error
	StopCapture(completion func())
}

// Funcs adapts plain callbacks to a Delegate. Nil fields are ignored.
type Funcs struct {
	Frame func(frame *Frame)
	Error func(err error)
}

func (f Funcs) OnFrame(frame *Frame) {
	if f.Frame != nil {
		f.Frame(frame)
	}
}

func (f Funcs) OnCaptureError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ToRGBA converts a packed 32-bit frame into an *image.RGBA.
// RGBA frames share the frame's pixel memory; BGRA frames are swizzled into a new buffer.
func ToRGBA(f *Frame) (*image.RGBA, error) {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f.Format)
	}
	w, h := int(f.Width), int(f.Height)
	stride := w * bpp
	if len(f.Pixels) < stride*h {
		return nil, fmt.Errorf("pixel buffer too short: have %d bytes, need %d", len(f.Pixels), stride*h)
	}

	img := &image.RGBA{
		Stride: stride,
		Rect:   image.Rect(0, 0, w, h),
	}
	if f.Format == FormatRGBA {
		img.Pix = f.Pixels[:stride*h]
		return img, nil
	}

	pix := make([]byte, stride*h)
	src := f.Pixels
	for i := 0; i < len(pix); i += 4 {
		pix[i+0] = src[i+2]
		pix[i+1] = src[i+1]
		pix[i+2] = src[i+0]
		pix[i+3] = src[i+3]
	}
	img.Pix = pix
	return img, nil
}

// FromRGBA wraps a tightly packed *image.RGBA as an RGBA frame without copying.
func FromRGBA(img *image.RGBA, ts time.Duration) *Frame {
	b := img.Bounds()
	return &Frame{
		Width:     uint32(b.Dx()),
		Height:    uint32(b.Dy()),
		Format:    FormatRGBA,
		Timestamp: int64(ts),
		Pixels:    img.Pix,
	}
}
