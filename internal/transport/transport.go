package transport

import "github.com/junsooki/airrelay/internal/capture"

// FrameSender sends encoded video frames.
type FrameSender interface {
	SendFrame(f *capture.Frame) error
}

// FrameReceiver receives encoded video frames.
type FrameReceiver interface {
	OnFrame(callback func(f *capture.Frame))
}
