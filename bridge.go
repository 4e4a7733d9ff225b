package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/e7canasta/stream-relay/internal/metrics"
)

// BridgeOption customizes a Bridge
type BridgeOption func(*Bridge)

// WithClock sets the clock used for sample timestamps and the drain deadline
func WithClock(clk clock.Clock) BridgeOption {
	return func(b *Bridge) {
		b.clock = clk
	}
}

// Bridge wires a FrameSource to a streaming Pipeline and owns the relay
// lifecycle:
//
//	Uninitialized → DevicesConfigured → Streaming → Draining → Stopped
//
// Configure acquires the camera session and the pipeline. Run streams until
// the operator cancels, the camera faults or the pipeline fails, drains the
// handoff and releases everything.
type Bridge struct {
	cfg     Config
	source  FrameSource
	builder PipelineBuilder
	clock   clock.Clock

	state atomic.Int32

	mu        sync.Mutex
	session   Session
	pipeline  Pipeline
	injector  Injector
	handoff   *Handoff
	relay     *FrameRelay
	sink      *StreamSink
	startedAt time.Time

	drainOnce   sync.Once
	cancelRelay context.CancelFunc
	abortSink   context.CancelFunc
	drainTimer  *clock.Timer

	causeMu sync.Mutex
	cause   error
}

// NewBridge validates cfg and returns a Bridge in StateUninitialized.
//
// Nothing is opened here: an invalid configuration (for example an unknown
// stream kind) fails before the camera or the pipeline is touched.
func NewBridge(cfg Config, source FrameSource, builder PipelineBuilder, opts ...BridgeOption) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("stream-relay: %w: frame source is required", ErrInvalidConfig)
	}
	if builder == nil {
		return nil, fmt.Errorf("stream-relay: %w: pipeline builder is required", ErrInvalidConfig)
	}

	b := &Bridge{
		cfg:     cfg,
		source:  source,
		builder: builder,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetLifecycleState(StateUninitialized.String())
	return b, nil
}

// Configure opens the camera session, builds the pipeline, resolves the
// ingestion point and declares its caps.
//
// On failure everything acquired so far is released and the bridge stays
// in StateUninitialized.
func (b *Bridge) Configure(ctx context.Context) (err error) {
	if s := b.State(); s != StateUninitialized {
		return fmt.Errorf("stream-relay: configure in state %s: %w", s, ErrInvalidState)
	}

	var (
		session  Session
		pipeline Pipeline
	)
	defer func() {
		if err == nil {
			return
		}
		var cleanup error
		if pipeline != nil {
			cleanup = multierr.Append(cleanup, pipeline.Close())
		}
		if session != nil {
			cleanup = multierr.Append(cleanup, session.Close())
		}
		if cleanup != nil {
			slog.Warn("stream-relay: cleanup after failed configure", "error", cleanup)
		}
	}()

	src := b.cfg.Source()
	slog.Info("stream-relay: opening camera session",
		"kind", src.Kind.String(),
		"width", src.Width,
		"height", src.Height,
		"format", src.Format.String(),
		"fps", src.Framerate,
	)
	session, err = b.source.Open(ctx, src)
	if err != nil {
		return fmt.Errorf("stream-relay: open camera session: %w", err)
	}

	desc := b.cfg.PipelineDescription()
	slog.Info("stream-relay: building streaming pipeline", "pipeline", desc)
	pipeline, err = b.builder.Build(desc)
	if err != nil {
		return fmt.Errorf("stream-relay: build pipeline: %w", err)
	}

	injector, err := pipeline.IngestionPoint(IngestionPointName)
	if err != nil {
		return fmt.Errorf("stream-relay: resolve ingestion point %q: %w", IngestionPointName, err)
	}
	if err := injector.SetFormat(b.cfg.Caps()); err != nil {
		return fmt.Errorf("stream-relay: set caps %q: %w", b.cfg.Caps(), err)
	}

	handoff, err := NewHandoff(b.cfg.Handoff)
	if err != nil {
		return err
	}
	relay, err := NewFrameRelay(session, handoff, src, b.cfg.FrameWaitTimeout)
	if err != nil {
		return err
	}
	sink, err := NewStreamSink(handoff, injector, SinkConfig{
		Framerate:        b.cfg.Framerate,
		OnInjectionError: b.cfg.OnInjectionError,
		Clock:            b.clock,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.session = session
	b.pipeline = pipeline
	b.injector = injector
	b.handoff = handoff
	b.relay = relay
	b.sink = sink
	b.mu.Unlock()

	b.setState(StateDevicesConfigured)
	return nil
}

// Run starts streaming and blocks until the bridge reaches StateStopped.
//
// The relay runs on its own goroutine; the sink runs on the calling
// goroutine. Cancelling ctx requests a graceful shutdown: the relay stops
// polling, queued frames are drained within ShutdownTimeout, then the
// pipeline and the session are torn down.
//
// Returns the first fatal cause (device fault, pipeline fault, injection
// abort) combined with any teardown error, or nil after a requested shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	if s := b.State(); s != StateDevicesConfigured {
		return fmt.Errorf("stream-relay: run in state %s: %w", s, ErrInvalidState)
	}

	if err := b.pipeline.SetState(PipelinePlaying); err != nil {
		b.setCause(fmt.Errorf("stream-relay: start pipeline: %w", err))
		return b.teardown(nil)
	}

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	sinkCtx, abortSink := context.WithCancel(context.Background())
	defer cancelRelay()
	defer abortSink()
	b.mu.Lock()
	b.cancelRelay = cancelRelay
	b.abortSink = abortSink
	b.startedAt = b.clock.Now()
	b.mu.Unlock()

	b.setState(StateStreaming)

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		if err := b.relay.Run(relayCtx); err != nil {
			b.setCause(err)
			b.drain("camera session stopped")
			return
		}
		b.drain("frame relay finished")
	}()

	sinkDone := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		b.watch(ctx, sinkDone)
	}()

	sinkErr := b.sink.Run(sinkCtx)
	close(sinkDone)
	<-watchDone

	switch {
	case sinkErr == nil:
	case errors.Is(sinkErr, ErrInjectionFailed):
		b.setCause(sinkErr)
	case sinkCtx.Err() != nil:
		slog.Warn("stream-relay: drain aborted, queued frames discarded",
			"shutdown_timeout", b.cfg.ShutdownTimeout,
			"discarded", b.handoff.Len(),
		)
	}

	// Unblocks a relay still waiting in Send and stops the poll loop.
	b.drain("stream sink stopped")
	b.handoff.Close()

	select {
	case <-relayDone:
	case <-b.clock.After(b.cfg.ShutdownTimeout):
		slog.Warn("stream-relay: frame relay did not stop in time, closing the session under it",
			"timeout", b.cfg.ShutdownTimeout,
		)
	}

	return b.teardown(relayDone)
}

// watch moves the bridge to Draining on operator shutdown or pipeline
// failure. It returns once the sink has exited.
func (b *Bridge) watch(ctx context.Context, sinkDone <-chan struct{}) {
	select {
	case <-ctx.Done():
		b.drain("shutdown requested")
	case err, ok := <-b.pipeline.Errors():
		if !ok {
			break
		}
		metrics.RecordPipelineError(pipelineErrorCategory(err))
		b.setCause(fmt.Errorf("stream-relay: %w: %w", ErrPipelineFault, err))
		b.drain("pipeline fault")
		// The pipeline can no longer accept samples: skip draining.
		b.abort()
	case <-sinkDone:
		return
	}
	<-sinkDone
}

// drain enters StateDraining once: the relay stops polling, which closes the
// handoff, and the sink gets ShutdownTimeout to flush what is queued.
func (b *Bridge) drain(reason string) {
	b.drainOnce.Do(func() {
		if b.state.CompareAndSwap(int32(StateStreaming), int32(StateDraining)) {
			metrics.SetLifecycleState(StateDraining.String())
		}
		slog.Info("stream-relay: draining",
			"reason", reason,
			"queued", b.handoff.Len(),
			"shutdown_timeout", b.cfg.ShutdownTimeout,
		)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.cancelRelay != nil {
			b.cancelRelay()
		}
		abort := b.abortSink
		b.drainTimer = b.clock.AfterFunc(b.cfg.ShutdownTimeout, func() {
			slog.Warn("stream-relay: shutdown timeout exceeded, aborting sink")
			if abort != nil {
				abort()
			}
		})
	})
}

func (b *Bridge) abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abortSink != nil {
		b.abortSink()
	}
}

// teardown signals end-of-stream, stops the pipeline and closes the session.
//
// relayDone is nil when the relay never started. Otherwise teardown waits up
// to ShutdownTimeout for the relay to leave the session once it is closed.
func (b *Bridge) teardown(relayDone <-chan struct{}) error {
	b.mu.Lock()
	if b.drainTimer != nil {
		b.drainTimer.Stop()
	}
	injector, pipeline, session := b.injector, b.pipeline, b.session
	b.mu.Unlock()

	var errs error
	if err := injector.EndOfStream(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stream-relay: end of stream: %w", err))
	}
	if err := pipeline.SetState(PipelineNull); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stream-relay: stop pipeline: %w", err))
	}
	if err := pipeline.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stream-relay: close pipeline: %w", err))
	}
	if err := session.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("stream-relay: close camera session: %w", err))
	}
	if relayDone != nil {
		select {
		case <-relayDone:
		case <-b.clock.After(b.cfg.ShutdownTimeout):
			slog.Error("stream-relay: frame relay still running after the session was closed",
				"timeout", b.cfg.ShutdownTimeout,
			)
		}
	}

	b.setState(StateStopped)
	stats := b.Stats()
	slog.Info("stream-relay: stopped",
		"frames_captured", stats.FramesCaptured,
		"frames_forwarded", stats.FramesForwarded,
		"samples_injected", stats.SamplesInjected,
		"handoff_drops", stats.HandoffDrops,
		"injection_failures", stats.InjectionFailures,
		"uptime", stats.Uptime,
	)
	if errs != nil {
		slog.Error("stream-relay: teardown errors", "error", errs)
	}

	return multierr.Append(b.firstCause(), errs)
}

func (b *Bridge) setState(s LifecycleState) {
	prev := LifecycleState(b.state.Swap(int32(s)))
	metrics.SetLifecycleState(s.String())
	if prev != s {
		slog.Info("stream-relay: state transition", "from", prev.String(), "to", s.String())
	}
}

func (b *Bridge) setCause(err error) {
	b.causeMu.Lock()
	defer b.causeMu.Unlock()
	if b.cause == nil {
		b.cause = err
	}
}

func (b *Bridge) firstCause() error {
	b.causeMu.Lock()
	defer b.causeMu.Unlock()
	return b.cause
}

// State returns the current lifecycle state. Safe from any goroutine.
func (b *Bridge) State() LifecycleState {
	return LifecycleState(b.state.Load())
}

// Stats returns a snapshot of relay, handoff and sink counters.
// Safe from any goroutine.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	relay, handoff, sink, startedAt := b.relay, b.handoff, b.sink, b.startedAt
	b.mu.Unlock()

	st := Stats{State: b.State()}
	if relay != nil {
		rs := relay.Stats()
		st.FramesCaptured = rs.Captured
		st.FramesForwarded = rs.Forwarded
		st.FramesInvalid = rs.Invalid
		st.Session = rs.State
	}
	if handoff != nil {
		hs := handoff.Stats()
		st.HandoffDrops = hs.Dropped
		st.HandoffDepth = hs.Depth
		st.HandoffPeak = hs.Peak
	}
	if sink != nil {
		ss := sink.Stats()
		st.SamplesInjected = ss.Injected
		st.InjectionFailures = ss.Failures
		st.BytesInjected = ss.Bytes
	}
	if !startedAt.IsZero() {
		st.Uptime = b.clock.Since(startedAt)
	}
	return st
}

// Config returns the configuration the bridge was created with
func (b *Bridge) Config() Config {
	return b.cfg
}

// pipelineErrorCategory extracts the category of a classified pipeline error
func pipelineErrorCategory(err error) string {
	var c interface{ Category() string }
	if errors.As(err, &c) {
		return c.Category()
	}
	return "unknown"
}
