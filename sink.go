package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/e7canasta/stream-relay/internal/metrics"
)

// SinkConfig configures a StreamSink
type SinkConfig struct {
	// Framerate is the nominal frame rate, used for sample durations
	Framerate int
	// OnInjectionError decides whether a rejected sample stops the sink
	OnInjectionError InjectionFailurePolicy
	// Clock drives presentation timestamps. nil means the wall clock.
	Clock clock.Clock
}

// StreamSink is the consumer side: it drains the Handoff and injects each
// buffer into the streaming pipeline as a timed MediaSample.
type StreamSink struct {
	handoff  *Handoff
	injector Injector
	policy   InjectionFailurePolicy
	clock    clock.Clock
	duration time.Duration

	start   time.Time
	lastPTS time.Duration
	started bool

	injected atomic.Uint64
	failures atomic.Uint64
	bytes    atomic.Uint64
}

// NewStreamSink creates a sink that reads from handoff and writes to injector
func NewStreamSink(handoff *Handoff, injector Injector, cfg SinkConfig) (*StreamSink, error) {
	if handoff == nil {
		return nil, fmt.Errorf("stream-relay: %w: nil handoff", ErrInvalidConfig)
	}
	if injector == nil {
		return nil, fmt.Errorf("stream-relay: %w: nil injector", ErrInvalidConfig)
	}
	if cfg.Framerate <= 0 {
		return nil, fmt.Errorf("stream-relay: %w: framerate must be > 0 (got %d)", ErrInvalidConfig, cfg.Framerate)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &StreamSink{
		handoff:  handoff,
		injector: injector,
		policy:   cfg.OnInjectionError,
		clock:    clk,
		duration: time.Second / time.Duration(cfg.Framerate),
	}, nil
}

// Run injects buffers until the handoff reports end-of-stream.
//
// ctx is a hard-abort deadline: normal shutdown goes through Handoff.Close,
// which lets the sink drain whatever is still queued.
//
// Returns nil on end-of-stream, ctx.Err() on abort, or an error wrapping
// ErrInjectionFailed under InjectionAbort.
func (s *StreamSink) Run(ctx context.Context) error {
	slog.Info("stream-relay: stream sink started",
		"frame_duration", s.duration,
		"on_injection_error", s.policy.String(),
	)

	for {
		if err := ctx.Err(); err != nil {
			slog.Warn("stream-relay: stream sink aborted",
				"queued", s.handoff.Len(),
				"error", err,
			)
			return err
		}

		buf, err := s.handoff.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				slog.Info("stream-relay: stream sink reached end of stream",
					"samples_injected", s.injected.Load(),
					"injection_failures", s.failures.Load(),
				)
				return nil
			}
			// ctx done: reported at the top of the loop
			continue
		}

		sample := MediaSample{
			Buffer:   buf,
			PTS:      s.nextPTS(),
			Duration: s.duration,
		}

		err = s.injector.Inject(sample)
		metrics.RecordInjection(buf.Len(), err)
		if err != nil {
			s.failures.Add(1)
			slog.Error("stream-relay: sample injection failed, dropping frame",
				"seq", buf.Seq,
				"trace_id", buf.TraceID,
				"error", err,
			)
			if s.policy == InjectionAbort {
				return fmt.Errorf("stream-relay: frame %d: %w: %w", buf.Seq, ErrInjectionFailed, err)
			}
			continue
		}

		s.injected.Add(1)
		s.bytes.Add(uint64(buf.Len()))
		slog.Debug("stream-relay: sample injected",
			"seq", buf.Seq,
			"pts", sample.PTS,
			"latency", time.Since(buf.CapturedAt),
		)
	}
}

// nextPTS returns the running time since the first sample, clamped so that
// every timestamp is strictly greater than the previous one.
func (s *StreamSink) nextPTS() time.Duration {
	now := s.clock.Now()
	if !s.started {
		s.start = now
		s.started = true
		s.lastPTS = 0
		return 0
	}

	pts := now.Sub(s.start)
	if pts <= s.lastPTS {
		pts = s.lastPTS + time.Nanosecond
	}
	s.lastPTS = pts
	return pts
}

// SinkStats is a snapshot of the sink counters
type SinkStats struct {
	Injected uint64
	Failures uint64
	Bytes    uint64
}

// Stats returns a snapshot of the sink counters. Safe from any goroutine.
func (s *StreamSink) Stats() SinkStats {
	return SinkStats{
		Injected: s.injected.Load(),
		Failures: s.failures.Load(),
		Bytes:    s.bytes.Load(),
	}
}
