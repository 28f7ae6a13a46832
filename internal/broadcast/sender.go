package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/wire"
)

// SenderOptions configures the extension side of the socket.
type SenderOptions struct {
	MaxPayload uint32
	Retry      socket.RetryPolicy
	Logger     *slog.Logger
}

// Sender writes frames into the host application's socket. It is what the
// broadcast extension runs.
type Sender struct {
	conn  *socket.Connection
	codec wire.Codec
	log   *slog.Logger

	mu   sync.Mutex // serializes frames on the stream
	done chan struct{}
	once sync.Once
	err  error
}

// Dial connects to the host application at endpoint, retrying while the
// host is not listening yet.
func Dial(ctx context.Context, endpoint socket.Endpoint, opts SenderOptions) (*Sender, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry == (socket.RetryPolicy{}) {
		opts.Retry = socket.DefaultRetryPolicy
	}

	s := &Sender{
		codec: wire.Codec{MaxPayload: opts.MaxPayload},
		log:   opts.Logger.With("component", "sender"),
		done:  make(chan struct{}),
	}
	s.conn = socket.NewConnection(endpoint,
		socket.WithRole(socket.RoleDial),
		socket.WithRetry(opts.Retry),
		socket.WithLogger(opts.Logger),
	)
	if err := s.conn.OpenContext(ctx, socket.DelegateFunc(s.handleEvent)); err != nil {
		return nil, err
	}
	return s, nil
}

// Send writes one frame. Concurrent calls are serialized.
func (s *Sender) Send(f *capture.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.WriteFrame(s.conn, f)
}

// Done is closed when the host hangs up or the stream fails.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Err returns the stream error that closed Done, if any.
func (s *Sender) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close disconnects from the host.
func (s *Sender) Close() error {
	err := s.conn.Close()
	s.finish(nil)
	return err
}

func (s *Sender) handleEvent(ev socket.Event) {
	switch ev.Kind {
	case socket.EventClosed:
		s.log.Info("host closed the stream")
		s.finish(nil)
	case socket.EventError:
		s.log.Warn("stream error", "err", ev.Err)
		s.finish(ev.Err)
	}
}

func (s *Sender) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
