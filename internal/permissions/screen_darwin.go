//go:build darwin && cgo

package permissions

/*
#cgo LDFLAGS: -framework CoreGraphics
#include <CoreGraphics/CoreGraphics.h>

// CGPreflightScreenCaptureAccess and CGRequestScreenCaptureAccess
// are available since macOS 10.15.
int hasScreenRecordingPermission() {
    return CGPreflightScreenCaptureAccess();
}

int requestScreenRecordingPermission() {
    return CGRequestScreenCaptureAccess();
}
*/
import "C"

func hasScreenRecording() bool {
	return C.hasScreenRecordingPermission() != 0
}

// requestScreenRecording shows the system dialog when access is missing.
// A grant only takes effect after the process restarts.
func requestScreenRecording() bool {
	return C.requestScreenRecordingPermission() != 0
}
