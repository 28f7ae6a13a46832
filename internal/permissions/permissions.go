// Package permissions checks the OS permissions the screen source needs.
package permissions

import "errors"

// ErrScreenRecordingDenied means the process may not capture the display.
var ErrScreenRecordingDenied = errors.New("screen recording permission not granted; grant it in System Settings and restart")

// HasScreenRecording reports whether the process may capture the display.
func HasScreenRecording() bool {
	return hasScreenRecording()
}

// RequestScreenRecording prompts for Screen Recording permission and
// reports whether it is already granted.
func RequestScreenRecording() bool {
	return requestScreenRecording()
}

// EnsureScreenRecording prompts when needed and returns
// ErrScreenRecordingDenied if capture is not allowed yet.
func EnsureScreenRecording() error {
	if HasScreenRecording() || RequestScreenRecording() {
		return nil
	}
	return ErrScreenRecordingDenied
}
