package streamrelay

import "errors"

var (
	// ErrInvalidConfig is returned by Config.Validate and the policy parsers
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvalidStreamKind is returned for unknown camera stream names
	ErrInvalidStreamKind = errors.New("invalid camera stream kind")

	// ErrDeviceFault reports a fatal camera session error
	ErrDeviceFault = errors.New("camera device fault")
	// ErrWaitTimeout is returned by Session.WaitForFrames when no frame set
	// arrived in time. It is not a fault.
	ErrWaitTimeout = errors.New("timed out waiting for frames")

	// ErrHandoffClosed is returned by Send once the handoff is closed
	ErrHandoffClosed = errors.New("handoff closed")
	// ErrSendTimeout is returned by Send when a blocking send gave up
	ErrSendTimeout = errors.New("handoff send timed out")
	// ErrEndOfStream is returned by Receive once the handoff is closed and empty
	ErrEndOfStream = errors.New("end of stream")

	// ErrInjectionFailed wraps a sample rejection under InjectionAbort
	ErrInjectionFailed = errors.New("sample injection failed")
	// ErrIngestionPointNotFound is returned when the pipeline has no element
	// with the requested name
	ErrIngestionPointNotFound = errors.New("ingestion point not found")
	// ErrNotInjectable is returned when the named element cannot accept samples
	ErrNotInjectable = errors.New("element does not accept injected samples")
	// ErrPipelineFault reports a fatal streaming pipeline error
	ErrPipelineFault = errors.New("streaming pipeline fault")

	// ErrInvalidState is returned when a Bridge method is called out of order
	ErrInvalidState = errors.New("invalid lifecycle state")
)
