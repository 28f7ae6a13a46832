package encoder

import "github.com/junsooki/airrelay/internal/capture"

// Encoder compresses raw frames for the remote relay.
type Encoder interface {
	Encode(f *capture.Frame) (*capture.Frame, error)
	SetQuality(quality int)
}
