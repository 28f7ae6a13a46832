// Package relay forwards frames from the broadcast extension to the
// connected remote controller.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/encoder"
	"github.com/junsooki/airrelay/internal/metrics"
	"github.com/junsooki/airrelay/internal/transport"
	"github.com/junsooki/airrelay/internal/wire"
)

// Pipeline is the host's capture delegate. OnFrame only parks the newest
// frame; Run encodes and sends it, so a slow encoder or channel drops stale
// frames instead of stalling the socket reader.
type Pipeline struct {
	enc encoder.Encoder
	log *slog.Logger

	latest chan *capture.Frame

	mu   sync.Mutex
	sink transport.FrameSender

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var _ capture.Delegate = (*Pipeline)(nil)

// NewPipeline returns a pipeline that compresses frames with enc.
func NewPipeline(enc encoder.Encoder, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		enc:    enc,
		log:    log.With("component", "relay"),
		latest: make(chan *capture.Frame, 1),
	}
}

// SetSink replaces the destination of encoded frames. nil pauses sending.
func (p *Pipeline) SetSink(s transport.FrameSender) {
	p.mu.Lock()
	p.sink = s
	p.mu.Unlock()
}

func (p *Pipeline) currentSink() transport.FrameSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

// OnFrame implements capture.Delegate.
func (p *Pipeline) OnFrame(f *capture.Frame) {
	for {
		select {
		case p.latest <- f:
			return
		default:
		}
		select {
		case <-p.latest:
			p.dropped.Add(1)
		default:
		}
	}
}

// OnCaptureError implements capture.Delegate.
func (p *Pipeline) OnCaptureError(err error) {
	if errors.Is(err, wire.ErrCorruptStream) {
		p.log.Error("broadcast stream corrupt", "err", err)
		return
	}
	p.log.Warn("capture error", "err", err)
}

// Run sends parked frames until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-p.latest:
			p.forward(f)
		}
	}
}

func (p *Pipeline) forward(f *capture.Frame) {
	sink := p.currentSink()
	if sink == nil {
		return
	}
	out, err := p.enc.Encode(f)
	if err != nil {
		p.log.Debug("encode frame", "format", f.Format, "err", err)
		metrics.RecordRemoteFrame(false)
		return
	}
	if err := sink.SendFrame(out); err != nil {
		p.log.Debug("send frame", "err", err)
		metrics.RecordRemoteFrame(false)
		return
	}
	p.sent.Add(1)
	metrics.RecordRemoteFrame(true)
}

// Stats returns frames sent and frames replaced before they could be sent.
func (p *Pipeline) Stats() (sent, dropped uint64) {
	return p.sent.Load(), p.dropped.Load()
}
