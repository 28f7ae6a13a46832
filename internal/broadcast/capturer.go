// Package broadcast ties the socket, the frame reader and the capture
// pipeline together on the host side, and provides the sending side used
// by the broadcast extension.
package broadcast

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/framereader"
	"github.com/junsooki/airrelay/internal/metrics"
	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/wire"
)

var (
	ErrAlreadyCapturing = errors.New("screen capture already running")
	ErrNotCapturing     = errors.New("screen capture not running")
)

// SessionInfo describes the running capture session.
type SessionInfo struct {
	Endpoint socket.Endpoint
	Started  time.Time
	Frames   uint64
	Bytes    uint64
}

// Option configures a ScreenCapturer.
type Option func(*ScreenCapturer)

// WithMaxPayload sets the largest frame payload accepted from the extension.
func WithMaxPayload(n uint32) Option {
	return func(s *ScreenCapturer) { s.maxPayload = n }
}

// WithLogger sets the capturer logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ScreenCapturer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithConnectionOptions passes extra options to every socket connection.
func WithConnectionOptions(opts ...socket.Option) Option {
	return func(s *ScreenCapturer) { s.connOpts = append(s.connOpts, opts...) }
}

// WithRearm starts a fresh session whenever the extension hangs up or the
// stream turns corrupt, so the next broadcast can attach without the caller
// restarting capture.
func WithRearm(enabled bool) Option {
	return func(s *ScreenCapturer) { s.rearm = enabled }
}

// ScreenCapturer receives frames from the broadcast extension and feeds
// them to the capture pipeline. It moves between idle and capturing; each
// capturing session owns one connection and one reader.
type ScreenCapturer struct {
	endpoint   socket.Endpoint
	delegate   capture.Delegate
	maxPayload uint32
	connOpts   []socket.Option
	rearm      bool
	log        *slog.Logger

	mu      sync.Mutex
	conn    *socket.Connection
	reader  *framereader.Reader
	started time.Time
}

var _ capture.Source = (*ScreenCapturer)(nil)

// NewScreenCapturer returns an idle capturer that will listen on endpoint
// and deliver frames to d.
func NewScreenCapturer(endpoint socket.Endpoint, d capture.Delegate, opts ...Option) *ScreenCapturer {
	s := &ScreenCapturer{
		endpoint:   endpoint,
		delegate:   d,
		maxPayload: wire.DefaultMaxPayload,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "screen_capturer")
	return s
}

// StartCapture opens the endpoint and starts reading frames.
func (s *ScreenCapturer) StartCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return ErrAlreadyCapturing
	}
	return s.startLocked()
}

func (s *ScreenCapturer) startLocked() error {
	opts := append([]socket.Option{socket.WithLogger(s.log)}, s.connOpts...)
	conn := socket.NewConnection(s.endpoint, opts...)

	var reader *framereader.Reader
	reader = framereader.New(
		capture.Funcs{
			Frame: s.delegate.OnFrame,
			Error: func(err error) {
				s.delegate.OnCaptureError(err)
				if errors.Is(err, wire.ErrCorruptStream) {
					go s.endSession(reader)
				}
			},
		},
		framereader.WithMaxPayload(s.maxPayload),
		framereader.WithLogger(s.log),
		framereader.WithEndOfStream(func() { go s.endSession(reader) }),
	)
	if err := reader.StartCapture(conn); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	s.conn = conn
	s.reader = reader
	s.started = time.Now()
	metrics.SessionStarted()
	s.log.Info("capture started", "endpoint", s.endpoint.Path())
	return nil
}

// StopCapture ends the session, if any, then calls completion exactly once.
// Calling it while idle is not an error.
func (s *ScreenCapturer) StopCapture(completion func()) {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()

	if completion != nil {
		completion()
	}
}

func (s *ScreenCapturer) stopLocked() {
	if s.reader == nil {
		return
	}
	s.reader.StopCapture()
	if err := s.conn.Close(); err != nil {
		s.log.Warn("close connection", "err", err)
	}
	st := s.reader.Stats()
	s.log.Info("capture stopped", "frames", st.Frames, "bytes", st.Bytes, "duration", time.Since(s.started).Round(time.Millisecond))

	s.reader = nil
	s.conn = nil
	s.started = time.Time{}
	metrics.SessionEnded()
}

// endSession tears down the session owned by r, unless it has already been
// replaced, and rearms when configured.
func (s *ScreenCapturer) endSession(r *framereader.Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != r {
		return
	}
	s.stopLocked()
	if !s.rearm {
		return
	}
	if err := s.startLocked(); err != nil {
		s.log.Error("rearm capture", "err", err)
		s.delegate.OnCaptureError(err)
	}
}

// Capturing reports whether a session is running.
func (s *ScreenCapturer) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// Session describes the running session.
func (s *ScreenCapturer) Session() (SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return SessionInfo{}, ErrNotCapturing
	}
	st := s.reader.Stats()
	return SessionInfo{
		Endpoint: s.endpoint,
		Started:  s.started,
		Frames:   st.Frames,
		Bytes:    st.Bytes,
	}, nil
}
