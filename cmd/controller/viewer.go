package main

import (
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/junsooki/airrelay/internal/capture"
	"github.com/junsooki/airrelay/internal/decoder"
)

// viewer decodes received frames, tracks throughput and writes periodic
// PNG snapshots.
type viewer struct {
	dec   decoder.Decoder
	dir   string
	every time.Duration
	log   *slog.Logger

	mu        sync.Mutex
	frames    uint64
	bad       uint64
	lastShot  time.Time
	lastFrame *capture.Frame
}

func newViewer(dec decoder.Decoder, dir string, every time.Duration, log *slog.Logger) (*viewer, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return &viewer{dec: dec, dir: dir, every: every, log: log}, nil
}

func (v *viewer) handleFrame(f *capture.Frame) {
	img, err := v.dec.Decode(f)

	v.mu.Lock()
	if err != nil {
		v.bad++
		v.mu.Unlock()
		v.log.Debug("decode frame", "err", err)
		return
	}
	v.frames++
	v.lastFrame = f
	shoot := v.dir != "" && time.Since(v.lastShot) >= v.every
	if shoot {
		v.lastShot = time.Now()
	}
	v.mu.Unlock()

	if !shoot {
		return
	}
	path := filepath.Join(v.dir, fmt.Sprintf("frame-%d.png", f.Timestamp))
	out, err := os.Create(path)
	if err != nil {
		v.log.Warn("create snapshot", "err", err)
		return
	}
	defer out.Close()
	if err := png.Encode(out, img); err != nil {
		v.log.Warn("write snapshot", "path", path, "err", err)
		return
	}
	v.log.Info("snapshot written", "path", path)
}

// report logs the frame rate every interval until ctx is done.
func (v *viewer) report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prev uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.mu.Lock()
			frames, bad, last := v.frames, v.bad, v.lastFrame
			v.mu.Unlock()

			attrs := []any{"fps", float64(frames-prev) / interval.Seconds(), "frames", frames, "undecodable", bad}
			if last != nil {
				attrs = append(attrs, "size", fmt.Sprintf("%dx%d", last.Width, last.Height), "media_time", last.Time())
			}
			v.log.Info("receiving", attrs...)
			prev = frames
		}
	}
}
