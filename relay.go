package streamrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/stream-relay/internal/metrics"
)

// DefaultFrameWaitTimeout bounds a single frame wait so the relay can observe
// cancellation even when the camera stops delivering.
const DefaultFrameWaitTimeout = time.Second

// FrameRelay is the producer side: it polls a camera Session and forwards
// owned copies of each frame to the Handoff.
//
// The session is owned by the goroutine running Run; nothing else may touch
// it while Run is active.
type FrameRelay struct {
	session     Session
	handoff     *Handoff
	kind        StreamKind
	frameSize   int
	waitTimeout time.Duration

	seq       atomic.Uint64
	captured  atomic.Uint64
	forwarded atomic.Uint64
	invalid   atomic.Uint64
	timeouts  atomic.Uint64
	state     atomic.Int32
}

// NewFrameRelay creates a relay reading frames of cfg.Kind from session.
//
// Every forwarded frame must be exactly cfg.FrameSize() bytes long.
func NewFrameRelay(session Session, handoff *Handoff, cfg SourceConfig, waitTimeout time.Duration) (*FrameRelay, error) {
	if session == nil {
		return nil, fmt.Errorf("stream-relay: %w: nil camera session", ErrInvalidConfig)
	}
	if handoff == nil {
		return nil, fmt.Errorf("stream-relay: %w: nil handoff", ErrInvalidConfig)
	}
	if cfg.FrameSize() <= 0 {
		return nil, fmt.Errorf("stream-relay: %w: frame size %dx%d %s", ErrInvalidConfig, cfg.Width, cfg.Height, cfg.Format)
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultFrameWaitTimeout
	}

	return &FrameRelay{
		session:     session,
		handoff:     handoff,
		kind:        cfg.Kind,
		frameSize:   cfg.FrameSize(),
		waitTimeout: waitTimeout,
	}, nil
}

// Run polls the session until ctx is cancelled, the session faults or the
// handoff is closed by the receiving side.
//
// Run always closes the handoff before returning, so the sink observes
// end-of-stream whatever the reason the relay stopped.
//
// Returns nil on cancellation or closed handoff, and an error wrapping
// ErrDeviceFault when the camera session failed.
func (r *FrameRelay) Run(ctx context.Context) error {
	defer r.handoff.Close()

	r.state.Store(int32(SessionActive))
	slog.Info("stream-relay: frame relay started",
		"kind", r.kind.String(),
		"frame_size", r.frameSize,
		"wait_timeout", r.waitTimeout,
	)

	for {
		if ctx.Err() != nil {
			r.stop("context cancelled")
			return nil
		}

		set, err := r.session.WaitForFrames(ctx, r.waitTimeout)
		if err != nil {
			if errors.Is(err, ErrWaitTimeout) {
				r.timeouts.Add(1)
				continue
			}
			if ctx.Err() != nil {
				r.stop("context cancelled")
				return nil
			}

			r.state.Store(int32(SessionFaulted))
			metrics.SessionFaults.Inc()
			slog.Error("stream-relay: camera session fault, stopping frame relay",
				"error", err,
				"frames_captured", r.captured.Load(),
				"frames_forwarded", r.forwarded.Load(),
			)
			if !errors.Is(err, ErrDeviceFault) {
				err = fmt.Errorf("%w: %w", ErrDeviceFault, err)
			}
			return fmt.Errorf("stream-relay: frame relay stopped: %w", err)
		}
		if set == nil {
			continue
		}

		for _, frame := range set.FramesOfKind(r.kind) {
			if err := r.forward(ctx, frame); err != nil {
				if errors.Is(err, ErrHandoffClosed) {
					r.stop("handoff closed by receiver")
					return nil
				}
				if ctx.Err() != nil {
					r.stop("context cancelled")
					return nil
				}
				return fmt.Errorf("stream-relay: frame relay stopped: %w", err)
			}
		}
	}
}

// forward copies one source frame into a FrameBuffer and sends it.
func (r *FrameRelay) forward(ctx context.Context, frame SourceFrame) error {
	r.captured.Add(1)
	metrics.FramesCaptured.Inc()

	payload := frame.Payload()
	if len(payload) != r.frameSize {
		r.invalid.Add(1)
		metrics.FramesInvalid.Inc()
		slog.Warn("stream-relay: skipping frame with unexpected size",
			"size_bytes", len(payload),
			"expected_bytes", r.frameSize,
		)
		return nil
	}

	// The source reuses its memory after the next wait, so the copy is required.
	data := make([]byte, len(payload))
	copy(data, payload)

	buf := FrameBuffer{
		Seq:        r.seq.Add(1),
		CapturedAt: time.Now(),
		Data:       data,
		TraceID:    uuid.New().String(),
	}

	err := r.handoff.Send(ctx, buf)
	switch {
	case err == nil:
		r.forwarded.Add(1)
		metrics.FramesForwarded.Inc()
		slog.Debug("stream-relay: frame forwarded",
			"seq", buf.Seq,
			"size_bytes", len(data),
			"trace_id", buf.TraceID,
		)
		return nil
	case errors.Is(err, ErrSendTimeout):
		// Counted by the handoff; the relay keeps polling.
		return nil
	default:
		return err
	}
}

func (r *FrameRelay) stop(reason string) {
	r.state.CompareAndSwap(int32(SessionActive), int32(SessionInactive))
	slog.Info("stream-relay: frame relay stopped",
		"reason", reason,
		"frames_captured", r.captured.Load(),
		"frames_forwarded", r.forwarded.Load(),
	)
}

// State returns the camera session state as seen by the relay
func (r *FrameRelay) State() SessionState {
	return SessionState(r.state.Load())
}

// RelayStats is a snapshot of the relay counters
type RelayStats struct {
	Captured     uint64
	Forwarded    uint64
	Invalid      uint64
	WaitTimeouts uint64
	State        SessionState
}

// Stats returns a snapshot of the relay counters. Safe from any goroutine.
func (r *FrameRelay) Stats() RelayStats {
	return RelayStats{
		Captured:     r.captured.Load(),
		Forwarded:    r.forwarded.Load(),
		Invalid:      r.invalid.Load(),
		WaitTimeouts: r.timeouts.Load(),
		State:        r.State(),
	}
}
