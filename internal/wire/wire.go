// Package wire implements the frame framing used between the broadcast
// extension and the host application.
//
// Each frame is a fixed 24-byte big-endian header followed by the raw
// payload:
//
//	offset  size  field
//	0       4     width
//	4       4     height
//	8       4     pixel format (FourCC)
//	12      4     payload length
//	16      8     timestamp (ns)
//	24      n     payload
//
// There are no sync markers; the stream stays aligned only because every
// header declares its payload length.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/junsooki/airrelay/internal/capture"
)

// HeaderSize is the encoded size of a frame header.
const HeaderSize = 24

// DefaultMaxPayload fits one uncompressed 4K BGRA frame.
const DefaultMaxPayload = 3840 * 2160 * 4

var (
	// ErrCorruptStream means a header declared a payload larger than the
	// configured ceiling. The stream cannot be trusted after this.
	ErrCorruptStream = errors.New("corrupt stream")

	// ErrFrameTooLarge is returned when encoding a frame above the ceiling.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Frame is the unit carried on the wire.
type Frame = capture.Frame

// MaxPayloadFor returns the payload ceiling for packed 32-bit frames of the given size.
func MaxPayloadFor(width, height int) uint32 {
	return uint32(width * height * 4)
}

// Codec encodes and decodes frames. The zero value uses DefaultMaxPayload.
type Codec struct {
	MaxPayload uint32
}

func (c Codec) maxPayload() uint32 {
	if c.MaxPayload == 0 {
		return DefaultMaxPayload
	}
	return c.MaxPayload
}

// Encode returns the wire encoding of f.
func Encode(f *Frame) []byte {
	return AppendFrame(make([]byte, 0, HeaderSize+len(f.Pixels)), f)
}

// AppendFrame appends the wire encoding of f to dst.
func AppendFrame(dst []byte, f *Frame) []byte {
	dst = binary.BigEndian.AppendUint32(dst, f.Width)
	dst = binary.BigEndian.AppendUint32(dst, f.Height)
	dst = binary.BigEndian.AppendUint32(dst, uint32(f.Format))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Pixels)))
	dst = binary.BigEndian.AppendUint64(dst, uint64(f.Timestamp))
	return append(dst, f.Pixels...)
}

// TryDecode decodes one frame from the front of buf.
//
// It returns the frame and the number of bytes consumed when a complete
// header and payload are present, and (nil, 0, nil) when more data is
// needed. A header declaring a payload above the ceiling yields
// ErrCorruptStream. The returned frame does not alias buf.
func (c Codec) TryDecode(buf []byte) (*Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, nil
	}
	n := binary.BigEndian.Uint32(buf[12:16])
	if n > c.maxPayload() {
		return nil, 0, fmt.Errorf("%w: declared payload %d exceeds limit %d", ErrCorruptStream, n, c.maxPayload())
	}
	total := HeaderSize + int(n)
	if len(buf) < total {
		return nil, 0, nil
	}

	f := &Frame{
		Width:     binary.BigEndian.Uint32(buf[0:4]),
		Height:    binary.BigEndian.Uint32(buf[4:8]),
		Format:    capture.PixelFormat(binary.BigEndian.Uint32(buf[8:12])),
		Timestamp: int64(binary.BigEndian.Uint64(buf[16:24])),
		Pixels:    make([]byte, n),
	}
	copy(f.Pixels, buf[HeaderSize:total])
	return f, total, nil
}

// WriteFrame writes one encoded frame to w.
func (c Codec) WriteFrame(w io.Writer, f *Frame) error {
	if uint64(len(f.Pixels)) > uint64(c.maxPayload()) {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, len(f.Pixels), c.maxPayload())
	}
	_, err := w.Write(Encode(f))
	return err
}
