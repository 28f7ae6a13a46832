//go:build !darwin || !cgo

package screencap

import (
	"context"

	"github.com/junsooki/airrelay/internal/capture"
)

// Capturer is unavailable on this platform.
type Capturer struct{}

// New always fails with ErrUnsupported.
func New(displayIndex int, fps int) (*Capturer, error) {
	return nil, ErrUnsupported
}

// Run always fails with ErrUnsupported.
func (c *Capturer) Run(ctx context.Context, fn func(*capture.Frame) error) error {
	return ErrUnsupported
}

// Grab returns nil.
func (c *Capturer) Grab() *capture.Frame {
	return nil
}
