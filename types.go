package streamrelay

import (
	"fmt"
	"time"
)

// FrameBuffer is an owned copy of one frame's raw pixel bytes
type FrameBuffer struct {
	// Seq is the monotonic capture sequence number (starts at 1)
	Seq uint64
	// CapturedAt is when the relay copied the frame out of the source
	CapturedAt time.Time
	// Data holds the pixel bytes in the negotiated format.
	// MUST NOT be modified after the buffer is handed off.
	Data []byte
	// TraceID is a unique identifier for following a frame through the logs
	TraceID string
}

// Len returns the payload size in bytes
func (b FrameBuffer) Len() int {
	return len(b.Data)
}

// MediaSample is a timed wrapper around a FrameBuffer, built right before injection
type MediaSample struct {
	Buffer FrameBuffer
	// PTS is the presentation timestamp in pipeline running time
	PTS time.Duration
	// Duration is the nominal frame duration (1/framerate)
	Duration time.Duration
}

// StreamKind identifies a camera stream
type StreamKind int

const (
	// StreamDepth is the depth (Z) stream
	StreamDepth StreamKind = iota
	// StreamColor is the RGB color stream
	StreamColor
	// StreamInfrared is the infrared imager stream
	StreamInfrared
	// StreamFisheye is the wide-angle tracking stream
	StreamFisheye
)

// ParseStreamKind maps the exact names "Depth", "Color", "Infrared" and
// "Fisheye" to a StreamKind. Matching is case-sensitive.
func ParseStreamKind(s string) (StreamKind, error) {
	switch s {
	case "Depth":
		return StreamDepth, nil
	case "Color":
		return StreamColor, nil
	case "Infrared":
		return StreamInfrared, nil
	case "Fisheye":
		return StreamFisheye, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be Depth, Color, Infrared or Fisheye)", ErrInvalidStreamKind, s)
	}
}

// String returns the canonical name of the stream kind
func (k StreamKind) String() string {
	switch k {
	case StreamDepth:
		return "Depth"
	case StreamColor:
		return "Color"
	case StreamInfrared:
		return "Infrared"
	case StreamFisheye:
		return "Fisheye"
	default:
		return fmt.Sprintf("StreamKind(%d)", int(k))
	}
}

// DefaultFormat returns the pixel format a stream kind is captured in
func (k StreamKind) DefaultFormat() PixelFormat {
	switch k {
	case StreamColor:
		return FormatRGB8
	case StreamDepth:
		return FormatZ16
	default:
		return FormatY8
	}
}

// PixelFormat is the negotiated raw pixel layout of a frame
type PixelFormat int

const (
	// FormatRGB8 is interleaved 8-bit RGB (RGBRGB...)
	FormatRGB8 PixelFormat = iota
	// FormatZ16 is 16-bit little-endian depth
	FormatZ16
	// FormatY8 is 8-bit luminance (infrared, fisheye)
	FormatY8
)

// ParsePixelFormat accepts "RGB8", "Z16" and "Y8"
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "RGB8":
		return FormatRGB8, nil
	case "Z16":
		return FormatZ16, nil
	case "Y8":
		return FormatY8, nil
	default:
		return 0, fmt.Errorf("%w: pixel format %q (must be RGB8, Z16 or Y8)", ErrInvalidConfig, s)
	}
}

// BytesPerPixel returns the size of one pixel in bytes
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB8:
		return 3
	case FormatZ16:
		return 2
	case FormatY8:
		return 1
	default:
		return 0
	}
}

// CapsName returns the GStreamer video/x-raw format name
func (f PixelFormat) CapsName() string {
	switch f {
	case FormatRGB8:
		return "RGB"
	case FormatZ16:
		return "GRAY16_LE"
	case FormatY8:
		return "GRAY8"
	default:
		return ""
	}
}

// String returns a human-readable name
func (f PixelFormat) String() string {
	switch f {
	case FormatRGB8:
		return "RGB8"
	case FormatZ16:
		return "Z16"
	case FormatY8:
		return "Y8"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// PipelineState mirrors the streaming pipeline lifecycle
type PipelineState int

const (
	PipelineNull PipelineState = iota
	PipelineReady
	PipelinePaused
	PipelinePlaying
)

func (s PipelineState) String() string {
	switch s {
	case PipelineNull:
		return "null"
	case PipelineReady:
		return "ready"
	case PipelinePaused:
		return "paused"
	case PipelinePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// SessionState describes the camera session as seen by the relay
type SessionState int32

const (
	SessionInactive SessionState = iota
	SessionActive
	SessionFaulted
)

func (s SessionState) String() string {
	switch s {
	case SessionInactive:
		return "inactive"
	case SessionActive:
		return "active"
	case SessionFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// LifecycleState is the composed state of a Bridge
type LifecycleState int32

const (
	StateUninitialized LifecycleState = iota
	StateDevicesConfigured
	StateStreaming
	StateDraining
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDevicesConfigured:
		return "devices_configured"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DropPolicy decides what the handoff does when it is full
type DropPolicy int

const (
	// PolicyBlock makes Send wait for space, up to the configured block
	// timeout. The incoming frame is dropped when the timeout expires.
	PolicyBlock DropPolicy = iota
	// PolicyDropOldest evicts the oldest queued frame to make room
	PolicyDropOldest
)

// ParseDropPolicy accepts "block" and "drop-oldest"
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case "block":
		return PolicyBlock, nil
	case "drop-oldest":
		return PolicyDropOldest, nil
	default:
		return 0, fmt.Errorf("%w: handoff policy %q (must be block or drop-oldest)", ErrInvalidConfig, s)
	}
}

func (p DropPolicy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// InjectionFailurePolicy decides what the sink does when the pipeline
// rejects a sample
type InjectionFailurePolicy int

const (
	// InjectionContinue drops the frame, logs and keeps streaming
	InjectionContinue InjectionFailurePolicy = iota
	// InjectionAbort stops the sink on the first rejected sample
	InjectionAbort
)

// ParseInjectionFailurePolicy accepts "continue" and "abort"
func ParseInjectionFailurePolicy(s string) (InjectionFailurePolicy, error) {
	switch s {
	case "continue":
		return InjectionContinue, nil
	case "abort":
		return InjectionAbort, nil
	default:
		return 0, fmt.Errorf("%w: injection failure policy %q (must be continue or abort)", ErrInvalidConfig, s)
	}
}

func (p InjectionFailurePolicy) String() string {
	switch p {
	case InjectionContinue:
		return "continue"
	case InjectionAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Stats contains current relay statistics
type Stats struct {
	// FramesCaptured counts frames of the configured kind seen by the relay
	FramesCaptured uint64
	// FramesForwarded counts frames accepted by the handoff
	FramesForwarded uint64
	// FramesInvalid counts frames skipped because of a size mismatch
	FramesInvalid uint64
	// HandoffDrops counts frames lost to backpressure (evicted or timed out)
	HandoffDrops uint64
	// HandoffDepth is the number of buffers currently queued
	HandoffDepth int
	// HandoffPeak is the highest queue depth observed
	HandoffPeak int
	// SamplesInjected counts samples accepted by the pipeline
	SamplesInjected uint64
	// InjectionFailures counts samples rejected by the pipeline
	InjectionFailures uint64
	// BytesInjected is the total payload handed to the pipeline
	BytesInjected uint64
	// State is the lifecycle state at snapshot time
	State LifecycleState
	// Session is the camera session state at snapshot time
	Session SessionState
	// Uptime is the time since streaming started
	Uptime time.Duration
}
