package streamrelay

import (
	"context"
	"time"
)

// SourceConfig is what a FrameSource needs to open a camera stream
type SourceConfig struct {
	Kind      StreamKind
	Width     int
	Height    int
	Format    PixelFormat
	Framerate int
}

// FrameSize returns the expected payload size of one frame in bytes
func (c SourceConfig) FrameSize() int {
	return c.Width * c.Height * c.Format.BytesPerPixel()
}

// FrameSource opens camera sessions.
//
// Implementations must guarantee:
//   - Open() either returns a usable Session or leaves nothing running
//   - a Session is used by exactly one goroutine (the Frame Relay)
type FrameSource interface {
	// Open enables the requested stream and starts the device.
	Open(ctx context.Context, cfg SourceConfig) (Session, error)
}

// Session is an active camera stream.
type Session interface {
	// WaitForFrames blocks until the next frame set is ready.
	//
	// Returns ErrWaitTimeout (possibly wrapped) if nothing arrived within
	// timeout; the caller is expected to retry. Any other error is fatal for
	// the session and should wrap ErrDeviceFault.
	//
	// Frames of the returned set are only valid until the next call to
	// WaitForFrames or Close. Callers that keep the data must copy it.
	WaitForFrames(ctx context.Context, timeout time.Duration) (FrameSet, error)

	// Close stops the device and releases the session. Idempotent.
	Close() error
}

// FrameSet is one synchronized set of frames from a Session
type FrameSet interface {
	// FramesOfKind returns the frames of the given stream kind (zero or more).
	FramesOfKind(kind StreamKind) []SourceFrame
}

// SourceFrame is a frame owned by the source
type SourceFrame interface {
	// Payload returns a read-only view of the frame bytes. The slice is
	// bounds-checked against the frame's reported size and is only valid
	// until the owning FrameSet is released.
	Payload() []byte
}

// PipelineBuilder constructs a Streaming Pipeline from a launch description
type PipelineBuilder interface {
	Build(description string) (Pipeline, error)
}

// Pipeline is an externally configured encode/transport graph
type Pipeline interface {
	// SetState moves the pipeline to the given state.
	SetState(state PipelineState) error

	// IngestionPoint looks up the named element and returns it as an
	// Injector. Returns ErrIngestionPointNotFound if no element carries the
	// name, ErrNotInjectable if the element cannot accept samples.
	IngestionPoint(name string) (Injector, error)

	// Errors delivers fatal pipeline errors (bus errors, unexpected EOS).
	// The channel is closed by Close.
	Errors() <-chan error

	// Close stops internal goroutines and releases the pipeline. Idempotent.
	Close() error
}

// Injector is the ingestion point of a Pipeline
type Injector interface {
	// SetFormat declares the caps of the samples that will be injected.
	SetFormat(caps string) error
	// Inject hands one sample to the pipeline. A non-nil error means the
	// sample was rejected and dropped.
	Inject(sample MediaSample) error
	// EndOfStream signals that no more samples will follow.
	EndOfStream() error
}
