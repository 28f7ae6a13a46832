// Package framereader turns the byte stream arriving on a socket connection
// into frames for the capture pipeline.
package framereader

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/metrics"
	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/wire"
)

var (
	ErrAlreadyStarted = errors.New("frame reader already started")
	ErrStopped        = errors.New("frame reader stopped")
)

// readLimit bounds a single drain from the connection.
const readLimit = 256 * 1024

// Conn is the part of a socket connection the reader drives.
type Conn interface {
	Open(d socket.Delegate) error
	Read(limit int) []byte
	Close() error
}

// Stats is a snapshot of reader progress.
type Stats struct {
	Frames  uint64 // frames delivered to the delegate
	Bytes   uint64 // bytes drained from the connection
	Pending int    // bytes buffered toward the next frame
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxPayload sets the largest payload a frame header may declare.
func WithMaxPayload(n uint32) Option {
	return func(r *Reader) { r.codec.MaxPayload = n }
}

// WithLogger sets the reader logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// WithEndOfStream sets a callback run on the notification goroutine when the
// peer ends the stream.
func WithEndOfStream(fn func()) Option {
	return func(r *Reader) { r.onEnd = fn }
}

// Reader reassembles frames from a connection and forwards them, in
// arrival order, to a capture delegate. It acts as the connection's event
// delegate, so all decoding happens on the connection's notification
// goroutine. A Reader is started once.
type Reader struct {
	codec wire.Codec
	log   *slog.Logger
	onEnd func()

	mu       sync.Mutex
	delegate capture.Delegate // released on stop
	conn     Conn
	acc      []byte

	stopped atomic.Bool
	frames  atomic.Uint64
	bytes   atomic.Uint64
}

// New returns a reader that delivers frames to d. The reader does not own d.
func New(d capture.Delegate, opts ...Option) *Reader {
	r := &Reader{
		delegate: d,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartCapture opens conn with the reader as its event delegate.
func (r *Reader) StartCapture(conn Conn) error {
	if r.stopped.Load() {
		return ErrStopped
	}
	r.mu.Lock()
	if r.conn != nil {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.conn = conn
	r.mu.Unlock()

	if err := conn.Open(r); err != nil {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		return err
	}
	return nil
}

// StopCapture closes the connection and drops buffered partial data. It is
// idempotent and may be called from inside a delegate callback. No frame
// delivery starts after it returns.
func (r *Reader) StopCapture() {
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}
	r.mu.Lock()
	conn := r.conn
	r.acc = nil
	r.delegate = nil
	r.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.log.Warn("close connection", "err", err)
		}
	}
}

// Stats returns a snapshot of reader progress.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	pending := len(r.acc)
	r.mu.Unlock()
	return Stats{
		Frames:  r.frames.Load(),
		Bytes:   r.bytes.Load(),
		Pending: pending,
	}
}

// HandleEvent implements socket.Delegate.
func (r *Reader) HandleEvent(ev socket.Event) {
	if r.stopped.Load() {
		return
	}
	switch ev.Kind {
	case socket.EventConnected:
		r.log.Info("broadcast extension connected")
	case socket.EventBytesAvailable:
		r.drain()
	case socket.EventError:
		r.report(ev.Err)
	case socket.EventClosed:
		r.mu.Lock()
		dropped := len(r.acc)
		r.acc = r.acc[:0]
		r.mu.Unlock()
		r.log.Info("broadcast extension disconnected", "dropped_bytes", dropped)
		if r.onEnd != nil {
			r.onEnd()
		}
	}
}

func (r *Reader) drain() {
	r.mu.Lock()
	if r.conn == nil || r.delegate == nil {
		r.mu.Unlock()
		return
	}
	for {
		chunk := r.conn.Read(readLimit)
		if len(chunk) == 0 {
			break
		}
		r.acc = append(r.acc, chunk...)
		r.bytes.Add(uint64(len(chunk)))
		metrics.RecordBytes(len(chunk))
	}

	var (
		frames []*capture.Frame
		derr   error
		off    int
	)
	for {
		f, n, err := r.codec.TryDecode(r.acc[off:])
		if err != nil {
			derr = err
			break
		}
		if f == nil {
			break
		}
		frames = append(frames, f)
		off += n
	}
	r.acc = append(r.acc[:0], r.acc[off:]...)
	d := r.delegate
	r.mu.Unlock()

	for _, f := range frames {
		if r.stopped.Load() {
			return
		}
		d.OnFrame(f)
		r.frames.Add(1)
		metrics.RecordFrame()
	}
	if derr != nil {
		r.log.Error("stopping capture on corrupt stream", "err", derr)
		r.StopCapture()
		metrics.RecordCaptureError(errorKind(derr))
		d.OnCaptureError(derr)
	}
}

func (r *Reader) report(err error) {
	r.mu.Lock()
	d := r.delegate
	r.mu.Unlock()
	if d == nil {
		return
	}
	r.log.Warn("stream error", "err", err)
	metrics.RecordCaptureError(errorKind(err))
	d.OnCaptureError(err)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, wire.ErrCorruptStream):
		return "corrupt_stream"
	case errors.Is(err, socket.ErrIO):
		return "io"
	case errors.Is(err, socket.ErrConnect):
		return "connect"
	default:
		return "other"
	}
}
