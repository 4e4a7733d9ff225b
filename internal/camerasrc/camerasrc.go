// Package camerasrc captures raw frames from a V4L2 camera node with GStreamer.
//
// Pipeline structure:
//
//	v4l2src → videoconvert → videoscale → capsfilter → appsink
//
// The appsink callback copies each frame and hands it to the session through
// a small channel. A full channel drops the newest frame, the same
// non-blocking delivery the relay sees from any live camera.
package camerasrc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	streamrelay "github.com/e7canasta/stream-relay"
	"github.com/e7canasta/stream-relay/internal/gstpipe"
)

// DefaultDevice is the first V4L2 node. Depth cameras usually expose their
// color sensor on one of the first nodes.
const DefaultDevice = "/dev/video0"

// frameBuffer is the number of frames the appsink callback may queue ahead
// of WaitForFrames
const frameBuffer = 2

// Source opens V4L2 camera sessions
type Source struct {
	device string
}

// New returns a Source reading from device (DefaultDevice when empty)
func New(device string) *Source {
	if device == "" {
		device = DefaultDevice
	}
	return &Source{device: device}
}

// Description returns the capture pipeline for cfg
func Description(device string, cfg streamrelay.SourceConfig) string {
	stages := []string{
		fmt.Sprintf("v4l2src device=%s", device),
		"videoconvert",
		"videoscale",
		fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
			cfg.Format.CapsName(), cfg.Width, cfg.Height, cfg.Framerate),
		"appsink name=frames sync=false max-buffers=1 drop=true",
	}
	return strings.Join(stages, " ! ")
}

// Open builds and starts the capture pipeline.
//
// On error nothing is left running.
func (s *Source) Open(ctx context.Context, cfg streamrelay.SourceConfig) (streamrelay.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.FrameSize() <= 0 {
		return nil, fmt.Errorf("camerasrc: %w: frame size %dx%d %s", streamrelay.ErrInvalidConfig, cfg.Width, cfg.Height, cfg.Format)
	}

	return s.start(Description(s.device, cfg), cfg)
}

// start parses desc, attaches to its "frames" appsink and sets it playing
func (s *Source) start(desc string, cfg streamrelay.SourceConfig) (streamrelay.Session, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(desc)
	if err != nil {
		return nil, fmt.Errorf("camerasrc: %w: parse capture pipeline: %w", streamrelay.ErrDeviceFault, err)
	}

	elem, err := pipeline.GetElementByName("frames")
	if err != nil || elem == nil {
		if err := pipeline.SetState(gst.StateNull); err != nil {
			slog.Warn("camerasrc: failed to release capture pipeline", "device", s.device, "error", err)
		}
		return nil, fmt.Errorf("camerasrc: %w: appsink not found in capture pipeline", streamrelay.ErrDeviceFault)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		pipeline: pipeline,
		kind:     cfg.Kind,
		device:   s.device,
		frames:   make(chan []byte, frameBuffer),
		faults:   make(chan error, 1),
		cancel:   cancel,
	}

	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: sess.onNewSample,
	})

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		gstpipe.MonitorBus(monitorCtx, pipeline, &sess.closing, sess.faults)
	}()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		if cerr := sess.Close(); cerr != nil {
			slog.Warn("camerasrc: failed to release capture pipeline", "device", s.device, "error", cerr)
		}
		return nil, fmt.Errorf("camerasrc: %w: start capture on %s: %w", streamrelay.ErrDeviceFault, s.device, err)
	}

	slog.Info("camerasrc: capture started",
		"device", s.device,
		"kind", cfg.Kind.String(),
		"format", cfg.Format.String(),
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.Framerate,
	)
	return sess, nil
}

// session is an active capture pipeline
type session struct {
	pipeline *gst.Pipeline
	kind     streamrelay.StreamKind
	device   string

	frames chan []byte
	faults chan error

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing atomic.Bool

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// onNewSample runs on a GStreamer streaming thread
func (s *session) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camerasrc: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camerasrc: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("camerasrc: empty buffer received")
		return gst.FlowOK
	}

	// GStreamer reuses the buffer once the callback returns
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	seq := s.seq.Add(1)
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
		slog.Debug("camerasrc: dropping frame, session not keeping up", "seq", seq)
	}
	return gst.FlowOK
}

// WaitForFrames returns the next captured frame
func (s *session) WaitForFrames(ctx context.Context, timeout time.Duration) (streamrelay.FrameSet, error) {
	if s.closing.Load() {
		return nil, fmt.Errorf("camerasrc: %w: session closed", streamrelay.ErrDeviceFault)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-s.frames:
		return frameSet{kind: s.kind, frame: rawFrame(frame)}, nil
	case err := <-s.faults:
		// Keep the fault visible to later calls
		s.faults <- err
		return nil, fmt.Errorf("camerasrc: %w: %s: %w", streamrelay.ErrDeviceFault, s.device, err)
	case <-timer.C:
		return nil, fmt.Errorf("camerasrc: no frame after %s: %w", timeout, streamrelay.ErrWaitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the capture pipeline. Idempotent.
func (s *session) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("camerasrc: failed to set capture pipeline to NULL: %w", err)
	}
	slog.Info("camerasrc: capture stopped",
		"device", s.device,
		"frames", s.seq.Load(),
		"dropped", s.dropped.Load(),
	)
	return nil
}

// frameSet carries a single frame of the session's stream kind
type frameSet struct {
	kind  streamrelay.StreamKind
	frame rawFrame
}

func (f frameSet) FramesOfKind(kind streamrelay.StreamKind) []streamrelay.SourceFrame {
	if kind != f.kind {
		return nil
	}
	return []streamrelay.SourceFrame{f.frame}
}

type rawFrame []byte

func (r rawFrame) Payload() []byte {
	return r
}
