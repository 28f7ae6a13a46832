package broadcast

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/socket"
	"github.com/junsooki/airrelay/internal/wire"
)

type pipeline struct {
	mu     sync.Mutex
	frames []*capture.Frame
	errs   []error
}

func (p *pipeline) OnFrame(f *capture.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
}

func (p *pipeline) OnCaptureError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
}

func (p *pipeline) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *pipeline) snapshot() ([]*capture.Frame, []error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*capture.Frame(nil), p.frames...), append([]error(nil), p.errs...)
}

func testEndpoint(t *testing.T) socket.Endpoint {
	t.Helper()
	dir, err := os.MkdirTemp("", "bc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return socket.EndpointIn(dir)
}

func testFrame(ts int64) *capture.Frame {
	pix := make([]byte, 4*4*4)
	for i := range pix {
		pix[i] = byte(i) ^ byte(ts)
	}
	return &capture.Frame{Width: 4, Height: 4, Format: capture.FormatBGRA, Timestamp: ts, Pixels: pix}
}

func fastRetry() socket.RetryPolicy {
	return socket.RetryPolicy{InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, MaxElapsed: 2 * time.Second}
}

func TestScreenCapturer_StartTwice(t *testing.T) {
	sc := NewScreenCapturer(testEndpoint(t), &pipeline{})
	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	assert.ErrorIs(t, sc.StartCapture(), ErrAlreadyCapturing)
	assert.True(t, sc.Capturing())
}

func TestScreenCapturer_StopWhileIdle(t *testing.T) {
	sc := NewScreenCapturer(testEndpoint(t), &pipeline{})

	calls := 0
	sc.StopCapture(func() { calls++ })
	assert.Equal(t, 1, calls)
	assert.False(t, sc.Capturing())
}

func TestScreenCapturer_StopIsIdempotent(t *testing.T) {
	sc := NewScreenCapturer(testEndpoint(t), &pipeline{})
	require.NoError(t, sc.StartCapture())

	first, second := 0, 0
	sc.StopCapture(func() { first++ })
	sc.StopCapture(func() { second++ })
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.False(t, sc.Capturing())

	// Idle again, so a new session may start.
	require.NoError(t, sc.StartCapture())
	sc.StopCapture(nil)
}

func TestScreenCapturer_Session(t *testing.T) {
	ep := testEndpoint(t)
	sc := NewScreenCapturer(ep, &pipeline{})

	_, err := sc.Session()
	assert.ErrorIs(t, err, ErrNotCapturing)

	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	info, err := sc.Session()
	require.NoError(t, err)
	assert.Equal(t, ep, info.Endpoint)
	assert.False(t, info.Started.IsZero())
	assert.Zero(t, info.Frames)
}

func TestScreenCapturer_StartFailureStaysIdle(t *testing.T) {
	ep := socket.Endpoint(filepath.Join(os.TempDir(), "missing-dir-for-airrelay", socket.SocketFileName))
	sc := NewScreenCapturer(ep, &pipeline{})

	err := sc.StartCapture()
	assert.ErrorIs(t, err, socket.ErrConnect)
	assert.False(t, sc.Capturing())
}

func TestScreenCapturer_SenderEndToEnd(t *testing.T) {
	ep := testEndpoint(t)
	p := &pipeline{}
	sc := NewScreenCapturer(ep, p)
	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	snd, err := Dial(context.Background(), ep, SenderOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer snd.Close()

	want := []*capture.Frame{testFrame(1), testFrame(2), testFrame(3)}
	for _, f := range want {
		require.NoError(t, snd.Send(f))
	}

	require.Eventually(t, func() bool { return p.frameCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	frames, errs := p.snapshot()
	assert.Empty(t, errs)
	assert.Equal(t, want, frames)

	info, err := sc.Session()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Frames)
	assert.Equal(t, uint64(3*(wire.HeaderSize+64)), info.Bytes)
}

func TestScreenCapturer_NoFramesAfterStop(t *testing.T) {
	ep := testEndpoint(t)
	p := &pipeline{}
	sc := NewScreenCapturer(ep, p)
	require.NoError(t, sc.StartCapture())

	snd, err := Dial(context.Background(), ep, SenderOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer snd.Close()

	require.NoError(t, snd.Send(testFrame(1)))
	require.Eventually(t, func() bool { return p.frameCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	sc.StopCapture(func() { close(done) })
	<-done

	snd.Send(testFrame(2))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, p.frameCount())

	select {
	case <-snd.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not notice the host hanging up")
	}
}

func TestScreenCapturer_CorruptStreamEndsSession(t *testing.T) {
	ep := testEndpoint(t)
	p := &pipeline{}
	sc := NewScreenCapturer(ep, p, WithMaxPayload(128))
	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	conn, err := net.Dial("unix", ep.Path())
	require.NoError(t, err)
	defer conn.Close()

	hdr := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint32(hdr[12:16], 1<<20)
	_, err = conn.Write(append(wire.Encode(testFrame(1)), hdr...))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !sc.Capturing() }, 2*time.Second, 5*time.Millisecond)
	frames, errs := p.snapshot()
	assert.Len(t, frames, 1)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], wire.ErrCorruptStream)
}

func TestScreenCapturer_RearmAfterExtensionLeaves(t *testing.T) {
	ep := testEndpoint(t)
	p := &pipeline{}
	sc := NewScreenCapturer(ep, p, WithRearm(true))
	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	first, err := Dial(context.Background(), ep, SenderOptions{Retry: fastRetry()})
	require.NoError(t, err)
	require.NoError(t, first.Send(testFrame(1)))
	require.Eventually(t, func() bool { return p.frameCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())

	// The next broadcast attaches to the rearmed listener.
	second, err := Dial(context.Background(), ep, SenderOptions{Retry: fastRetry()})
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool {
		second.Send(testFrame(2))
		return p.frameCount() >= 2
	}, 3*time.Second, 50*time.Millisecond)
	assert.True(t, sc.Capturing())
}

func TestSender_DialFailsWithoutHost(t *testing.T) {
	ep := testEndpoint(t)
	_, err := Dial(context.Background(), ep, SenderOptions{Retry: socket.RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		MaxElapsed:      100 * time.Millisecond,
	}})
	assert.ErrorIs(t, err, socket.ErrConnect)
}

func TestSender_RejectsOversizedFrame(t *testing.T) {
	ep := testEndpoint(t)
	sc := NewScreenCapturer(ep, &pipeline{})
	require.NoError(t, sc.StartCapture())
	defer sc.StopCapture(nil)

	snd, err := Dial(context.Background(), ep, SenderOptions{MaxPayload: 8, Retry: fastRetry()})
	require.NoError(t, err)
	defer snd.Close()

	assert.ErrorIs(t, snd.Send(testFrame(1)), wire.ErrFrameTooLarge)
}
