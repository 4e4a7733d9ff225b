package camerasrc

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamrelay "github.com/e7canasta/stream-relay"
)

func TestDescription(t *testing.T) {
	cfg := streamrelay.SourceConfig{
		Kind:      streamrelay.StreamColor,
		Width:     640,
		Height:    480,
		Format:    streamrelay.FormatRGB8,
		Framerate: 30,
	}

	got := Description("/dev/video2", cfg)
	want := "v4l2src device=/dev/video2 ! videoconvert ! videoscale ! " +
		"video/x-raw,format=RGB,width=640,height=480,framerate=30/1 ! " +
		"appsink name=frames sync=false max-buffers=1 drop=true"
	assert.Equal(t, want, got)

	cfg.Format = streamrelay.FormatZ16
	assert.Contains(t, Description(DefaultDevice, cfg), "format=GRAY16_LE")
}

func TestNew_DefaultDevice(t *testing.T) {
	assert.Equal(t, DefaultDevice, New("").device)
	assert.Equal(t, "/dev/video4", New("/dev/video4").device)
}

func TestOpen_FailFast(t *testing.T) {
	src := New("")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Open(ctx, streamrelay.SourceConfig{Width: 640, Height: 480, Format: streamrelay.FormatRGB8, Framerate: 30})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = src.Open(context.Background(), streamrelay.SourceConfig{Width: 0, Height: 480, Format: streamrelay.FormatRGB8})
	assert.ErrorIs(t, err, streamrelay.ErrInvalidConfig)
}

func TestStart_MissingAppsink(t *testing.T) {
	if os.Getenv("STREAM_RELAY_GST_TESTS") == "" {
		t.Skip("Skipping GStreamer integration test (set STREAM_RELAY_GST_TESTS=1)")
	}

	cfg := streamrelay.SourceConfig{Kind: streamrelay.StreamColor, Width: 4, Height: 4, Format: streamrelay.FormatRGB8, Framerate: 30}
	_, err := New("").start("videotestsrc ! fakesink", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, streamrelay.ErrDeviceFault)
	assert.Contains(t, err.Error(), "appsink not found")
}

func newTestSession() *session {
	return &session{
		kind:   streamrelay.StreamColor,
		device: "/dev/test",
		frames: make(chan []byte, frameBuffer),
		faults: make(chan error, 1),
		cancel: func() {},
	}
}

func TestSession_WaitForFrames(t *testing.T) {
	t.Run("frame", func(t *testing.T) {
		s := newTestSession()
		s.frames <- []byte{1, 2, 3}

		set, err := s.WaitForFrames(context.Background(), time.Second)
		require.NoError(t, err)

		frames := set.FramesOfKind(streamrelay.StreamColor)
		require.Len(t, frames, 1)
		assert.Equal(t, []byte{1, 2, 3}, frames[0].Payload())
		assert.Empty(t, set.FramesOfKind(streamrelay.StreamDepth))
	})

	t.Run("timeout", func(t *testing.T) {
		s := newTestSession()
		start := time.Now()
		_, err := s.WaitForFrames(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, streamrelay.ErrWaitTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("fault is sticky", func(t *testing.T) {
		s := newTestSession()
		busErr := errors.New("Internal data stream error")
		s.faults <- busErr

		for i := 0; i < 2; i++ {
			_, err := s.WaitForFrames(context.Background(), time.Second)
			assert.ErrorIs(t, err, streamrelay.ErrDeviceFault)
			assert.ErrorIs(t, err, busErr)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		s := newTestSession()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.WaitForFrames(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("closing", func(t *testing.T) {
		s := newTestSession()
		s.closing.Store(true)
		_, err := s.WaitForFrames(context.Background(), time.Second)
		assert.ErrorIs(t, err, streamrelay.ErrDeviceFault)
	})
}
