// Package testpattern generates synthetic BGRA screen frames: colour bars
// with a box that moves one step per frame.
package testpattern

import (
	"context"
	"fmt"
	"time"

	"github.com/junsooki/airrelay/internal/capture"
)

// Config sizes the generated frames.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// DefaultConfig is a small portrait phone screen at 30 fps.
func DefaultConfig() Config {
	return Config{Width: 360, Height: 640, FPS: 30}
}

// bars in BGRA order: white, yellow, cyan, green, magenta, red, blue.
var bars = [][4]byte{
	{235, 235, 235, 255},
	{16, 235, 235, 255},
	{235, 235, 16, 255},
	{16, 235, 16, 255},
	{235, 16, 235, 255},
	{16, 16, 235, 255},
	{235, 16, 16, 255},
}

// Source produces frames on demand or at a fixed rate.
type Source struct {
	cfg   Config
	base  []byte
	index uint64
}

// New validates cfg and pre-renders the colour bars.
func New(cfg Config) (*Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 || cfg.FPS > 60 {
		return nil, fmt.Errorf("fps must be 1-60, got %d", cfg.FPS)
	}

	base := make([]byte, cfg.Width*cfg.Height*4)
	for y := 0; y < cfg.Height; y++ {
		for x := 0; x < cfg.Width; x++ {
			c := bars[x*len(bars)/cfg.Width]
			copy(base[(y*cfg.Width+x)*4:], c[:])
		}
	}
	return &Source{cfg: cfg, base: base}, nil
}

// Config returns the source configuration.
func (s *Source) Config() Config {
	return s.cfg
}

// Next renders the next frame. The timestamp advances by one frame interval.
func (s *Source) Next() *capture.Frame {
	idx := s.index
	s.index++

	pix := make([]byte, len(s.base))
	copy(pix, s.base)

	box := s.cfg.Height / 8
	if box > s.cfg.Width {
		box = s.cfg.Width
	}
	if box > 0 {
		span := s.cfg.Width - box + 1
		x0 := int(idx % uint64(span))
		y0 := (s.cfg.Height - box) / 2
		for y := y0; y < y0+box; y++ {
			for x := x0; x < x0+box; x++ {
				o := (y*s.cfg.Width + x) * 4
				pix[o], pix[o+1], pix[o+2], pix[o+3] = 0, 0, 0, 255
			}
		}
	}

	interval := time.Second / time.Duration(s.cfg.FPS)
	return &capture.Frame{
		Width:     uint32(s.cfg.Width),
		Height:    uint32(s.cfg.Height),
		Format:    capture.FormatBGRA,
		Timestamp: int64(time.Duration(idx) * interval),
		Pixels:    pix,
	}
}

// Run calls fn with a new frame every frame interval until ctx is done or
// fn fails.
func (s *Source) Run(ctx context.Context, fn func(*capture.Frame) error) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := fn(s.Next()); err != nil {
				return err
			}
		}
	}
}
