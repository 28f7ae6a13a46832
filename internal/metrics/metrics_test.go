package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFrameAndBytes(t *testing.T) {
	before := testutil.ToFloat64(framesDecoded)
	beforeBytes := testutil.ToFloat64(bytesReceived)

	RecordFrame()
	RecordFrame()
	RecordBytes(100)

	assert.Equal(t, before+2, testutil.ToFloat64(framesDecoded))
	assert.Equal(t, beforeBytes+100, testutil.ToFloat64(bytesReceived))
}

func TestRecordCaptureError(t *testing.T) {
	captureErrors.Reset()

	RecordCaptureError("corrupt_stream")
	RecordCaptureError("io")
	RecordCaptureError("io")

	assert.Equal(t, 1.0, testutil.ToFloat64(captureErrors.WithLabelValues("corrupt_stream")))
	assert.Equal(t, 2.0, testutil.ToFloat64(captureErrors.WithLabelValues("io")))
}

func TestSessions(t *testing.T) {
	sessionsActive.Set(0)
	SessionStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsActive))
	SessionEnded()
	assert.Equal(t, 0.0, testutil.ToFloat64(sessionsActive))
}

func TestRecordRemoteFrame(t *testing.T) {
	remoteFrames.Reset()
	RecordRemoteFrame(true)
	RecordRemoteFrame(false)
	RecordRemoteFrame(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(remoteFrames.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(remoteFrames.WithLabelValues("dropped")))
}

func TestRegisterAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg), "registering twice is harmless")

	RecordFrame()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "airrelay_frames_decoded_total"))
}
