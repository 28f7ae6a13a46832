// Package metrics exports Prometheus counters for the frame relay.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airrelay"

var (
	// framesDecoded counts frames decoded from the extension socket.
	framesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames decoded from the broadcast extension socket",
		},
	)

	// bytesReceived counts raw bytes drained from the socket.
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_bytes_received_total",
			Help:      "Bytes received on the broadcast extension socket",
		},
	)

	// captureErrors counts errors surfaced to the capture pipeline.
	captureErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Errors surfaced to the capture pipeline",
		},
		[]string{"kind"}, // corrupt_stream, io, connect, other
	)

	// sessionsActive is 1 while a screen capture session is running.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_sessions_active",
			Help:      "Number of active screen capture sessions",
		},
	)

	// remoteFrames counts frames forwarded to the remote viewer.
	remoteFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_frames_total",
			Help:      "Frames forwarded to the remote viewer",
		},
		[]string{"status"}, // sent, dropped
	)
)

// Register adds every relay collector to reg. Collectors already
// registered are left in place.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{framesDecoded, bytesReceived, captureErrors, sessionsActive, remoteFrames} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordFrame records one decoded frame.
func RecordFrame() {
	framesDecoded.Inc()
}

// RecordBytes records n bytes drained from the socket.
func RecordBytes(n int) {
	bytesReceived.Add(float64(n))
}

// RecordCaptureError records an error of the given kind.
func RecordCaptureError(kind string) {
	captureErrors.WithLabelValues(kind).Inc()
}

// SessionStarted marks a capture session as running.
func SessionStarted() {
	sessionsActive.Inc()
}

// SessionEnded marks a capture session as stopped.
func SessionEnded() {
	sessionsActive.Dec()
}

// RecordRemoteFrame records a frame handed to the remote transport.
func RecordRemoteFrame(sent bool) {
	status := "sent"
	if !sent {
		status = "dropped"
	}
	remoteFrames.WithLabelValues(status).Inc()
}
