//go:build !darwin || !cgo

package permissions

// Platforms without a Screen Recording gate always allow capture.
func hasScreenRecording() bool { return true }

func requestScreenRecording() bool { return true }
