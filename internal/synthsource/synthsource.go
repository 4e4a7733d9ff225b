// Package synthsource generates synthetic camera frames.
//
// It stands in for a camera on machines without one: frames carry a moving
// gradient, are paced at the configured frame rate and have exactly the
// size the relay expects. MaxFrames turns it into a finite source that
// faults once exhausted, which exercises the device fault path end to end.
package synthsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	streamrelay "github.com/e7canasta/stream-relay"
)

// ErrExhausted is reported (wrapped in ErrDeviceFault) after MaxFrames frames
var ErrExhausted = errors.New("synthetic source exhausted")

// Options configures a synthetic Source
type Options struct {
	// MaxFrames stops the source after this many frames (0 = unlimited)
	MaxFrames uint64
	// Unpaced delivers frames as fast as they are requested
	Unpaced bool
	// Clock paces frame delivery. nil means the wall clock.
	Clock clock.Clock
}

// Source opens synthetic sessions
type Source struct {
	opts Options
}

// New returns a synthetic Source
func New(opts Options) *Source {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Source{opts: opts}
}

// Open starts a synthetic session for cfg
func (s *Source) Open(ctx context.Context, cfg streamrelay.SourceConfig) (streamrelay.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size := cfg.FrameSize()
	if size <= 0 {
		return nil, fmt.Errorf("synthsource: %w: frame size %dx%d %s", streamrelay.ErrInvalidConfig, cfg.Width, cfg.Height, cfg.Format)
	}
	if cfg.Framerate <= 0 {
		return nil, fmt.Errorf("synthsource: %w: framerate must be > 0", streamrelay.ErrInvalidConfig)
	}

	slog.Info("synthsource: session opened",
		"kind", cfg.Kind.String(),
		"width", cfg.Width,
		"height", cfg.Height,
		"format", cfg.Format.String(),
		"fps", cfg.Framerate,
		"max_frames", s.opts.MaxFrames,
	)

	return &session{
		kind:     cfg.Kind,
		rowBytes: cfg.Width * cfg.Format.BytesPerPixel(),
		buf:      make([]byte, size),
		interval: time.Second / time.Duration(cfg.Framerate),
		opts:     s.opts,
		next:     s.opts.Clock.Now(),
	}, nil
}

type session struct {
	kind     streamrelay.StreamKind
	rowBytes int
	buf      []byte
	interval time.Duration
	opts     Options

	next    time.Time
	emitted atomic.Uint64
	closed  atomic.Bool
}

// WaitForFrames returns the next frame. The payload is rewritten in place by
// the following call.
func (s *session) WaitForFrames(ctx context.Context, timeout time.Duration) (streamrelay.FrameSet, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("synthsource: %w: session closed", streamrelay.ErrDeviceFault)
	}
	emitted := s.emitted.Load()
	if s.opts.MaxFrames > 0 && emitted >= s.opts.MaxFrames {
		return nil, fmt.Errorf("synthsource: %w: %w after %d frames", streamrelay.ErrDeviceFault, ErrExhausted, emitted)
	}

	if !s.opts.Unpaced {
		if err := s.pace(ctx, timeout); err != nil {
			return nil, err
		}
	}

	s.fill(emitted)
	s.emitted.Add(1)
	return frameSet{kind: s.kind, frame: s.buf}, nil
}

// pace waits for the next frame slot, bounded by timeout
func (s *session) pace(ctx context.Context, timeout time.Duration) error {
	wait := s.next.Sub(s.opts.Clock.Now())
	if wait > timeout {
		timer := s.opts.Clock.Timer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			return fmt.Errorf("synthsource: next frame in %s: %w", wait, streamrelay.ErrWaitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if wait > 0 {
		timer := s.opts.Clock.Timer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.next = s.next.Add(s.interval)
	// No catching up: a slow consumer sees the camera's frame rate, not a burst.
	if now := s.opts.Clock.Now(); s.next.Before(now) {
		s.next = now.Add(s.interval)
	}
	return nil
}

// fill draws a diagonal gradient that shifts one step per frame
func (s *session) fill(frame uint64) {
	shift := byte(frame)
	for i := range s.buf {
		row := i / s.rowBytes
		col := i % s.rowBytes
		s.buf[i] = byte(row+col) + shift
	}
}

// Close is idempotent
func (s *session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		slog.Info("synthsource: session closed", "frames", s.emitted.Load())
	}
	return nil
}

type frameSet struct {
	kind  streamrelay.StreamKind
	frame frame
}

func (f frameSet) FramesOfKind(kind streamrelay.StreamKind) []streamrelay.SourceFrame {
	if kind != f.kind {
		return nil
	}
	return []streamrelay.SourceFrame{f.frame}
}

type frame []byte

func (f frame) Payload() []byte {
	return f
}
