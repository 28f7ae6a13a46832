// Package screencap captures the local display for the broadcast extension
// simulator. Only macOS with cgo is supported.
package screencap

import "errors"

// ErrUnsupported is returned by New on platforms without a capture backend.
var ErrUnsupported = errors.New("screen capture not supported on this platform")
