package streamrelay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/stream-relay/internal/metrics"
)

// HandoffConfig configures the relay → sink handoff
type HandoffConfig struct {
	// Capacity is the maximum number of queued buffers (>= 1)
	Capacity int
	// Policy decides what Send does when the queue is full
	Policy DropPolicy
	// BlockTimeout bounds how long a PolicyBlock send waits for space
	BlockTimeout time.Duration
}

// DefaultHandoffConfig returns a small blocking queue: no frame is lost
// unless the sink stalls for more than a second.
func DefaultHandoffConfig() HandoffConfig {
	return HandoffConfig{
		Capacity:     4,
		Policy:       PolicyBlock,
		BlockTimeout: time.Second,
	}
}

// HandoffStats is a snapshot of handoff counters
type HandoffStats struct {
	Sent     uint64
	Received uint64
	// Dropped counts evicted buffers (drop-oldest) and timed-out sends (block)
	Dropped  uint64
	Depth    int
	Peak     int
	Capacity int
}

// Handoff is an ordered single-producer/single-consumer queue of FrameBuffers.
//
// Semantics:
//   - FIFO: buffers are received in the order they were sent
//   - Bounded: at most Capacity buffers are queued; the DropPolicy decides
//     what happens beyond that
//   - Close stops new sends; buffers already queued are still delivered and
//     Receive reports ErrEndOfStream once the queue is empty
//
// Ownership of a buffer moves to the handoff on a successful Send and to the
// receiver on Receive.
type Handoff struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []FrameBuffer
	closed bool
	peak   int

	capacity     int
	policy       DropPolicy
	blockTimeout time.Duration

	sent     atomic.Uint64
	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewHandoff creates a handoff with fail-fast validation of cfg
func NewHandoff(cfg HandoffConfig) (*Handoff, error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("stream-relay: %w: handoff capacity %d (must be >= 1)", ErrInvalidConfig, cfg.Capacity)
	}
	switch cfg.Policy {
	case PolicyBlock:
		if cfg.BlockTimeout <= 0 {
			return nil, fmt.Errorf("stream-relay: %w: block timeout must be > 0", ErrInvalidConfig)
		}
	case PolicyDropOldest:
	default:
		return nil, fmt.Errorf("stream-relay: %w: unknown handoff policy %d", ErrInvalidConfig, cfg.Policy)
	}

	h := &Handoff{
		queue:        make([]FrameBuffer, 0, cfg.Capacity),
		capacity:     cfg.Capacity,
		policy:       cfg.Policy,
		blockTimeout: cfg.BlockTimeout,
	}
	h.cond = sync.NewCond(&h.mu)
	return h, nil
}

// Send enqueues buf.
//
// Returns:
//   - ErrHandoffClosed if the handoff was closed (before or while waiting)
//   - ErrSendTimeout if PolicyBlock waited BlockTimeout without space; the
//     buffer is dropped and counted
//   - ctx.Err() if ctx was cancelled while waiting
func (h *Handoff) Send(ctx context.Context, buf FrameBuffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandoffClosed
	}

	if len(h.queue) >= h.capacity {
		switch h.policy {
		case PolicyDropOldest:
			evicted := h.queue[0]
			h.queue[0] = FrameBuffer{}
			h.queue = h.queue[1:]
			h.dropped.Add(1)
			metrics.RecordHandoffDrop(h.policy.String())
			slog.Debug("stream-relay: handoff full, dropping oldest frame",
				"evicted_seq", evicted.Seq,
				"incoming_seq", buf.Seq,
			)

		case PolicyBlock:
			if err := h.waitForSpace(ctx); err != nil {
				if err == ErrSendTimeout {
					h.dropped.Add(1)
					metrics.RecordHandoffDrop(h.policy.String())
					slog.Debug("stream-relay: handoff full, send timed out",
						"seq", buf.Seq,
						"timeout", h.blockTimeout,
					)
				}
				return err
			}
		}
	}

	h.queue = append(h.queue, buf)
	h.sent.Add(1)
	if len(h.queue) > h.peak {
		h.peak = len(h.queue)
	}
	metrics.HandoffDepth.Set(float64(len(h.queue)))
	h.cond.Broadcast()
	return nil
}

// waitForSpace blocks until the queue has room. Caller holds h.mu.
func (h *Handoff) waitForSpace(ctx context.Context) error {
	expired := false
	timer := time.AfterFunc(h.blockTimeout, func() {
		h.mu.Lock()
		expired = true
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, h.wake)
	defer stop()

	for len(h.queue) >= h.capacity && !h.closed && !expired && ctx.Err() == nil {
		h.cond.Wait()
	}

	switch {
	case h.closed:
		return ErrHandoffClosed
	case len(h.queue) < h.capacity:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return ErrSendTimeout
	}
}

// Receive dequeues the oldest buffer, blocking until one is available.
//
// Queued buffers are always delivered first. Once the handoff is closed and
// empty Receive returns ErrEndOfStream. If ctx is cancelled while waiting it
// returns ctx.Err().
func (h *Handoff) Receive(ctx context.Context) (FrameBuffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.queue) == 0 && !h.closed {
		stop := context.AfterFunc(ctx, h.wake)
		for len(h.queue) == 0 && !h.closed && ctx.Err() == nil {
			h.cond.Wait()
		}
		stop()
	}

	if len(h.queue) > 0 {
		buf := h.queue[0]
		h.queue[0] = FrameBuffer{}
		h.queue = h.queue[1:]
		h.received.Add(1)
		metrics.HandoffDepth.Set(float64(len(h.queue)))
		h.cond.Broadcast()
		return buf, nil
	}
	if h.closed {
		return FrameBuffer{}, ErrEndOfStream
	}
	return FrameBuffer{}, ctx.Err()
}

// Close stops accepting new buffers and wakes every waiter. Idempotent.
func (h *Handoff) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.cond.Broadcast()
}

// Closed reports whether Close was called
func (h *Handoff) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Len returns the number of queued buffers
func (h *Handoff) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Policy returns the configured drop policy
func (h *Handoff) Policy() DropPolicy {
	return h.policy
}

// Stats returns a snapshot of the handoff counters
func (h *Handoff) Stats() HandoffStats {
	h.mu.Lock()
	depth, peak := len(h.queue), h.peak
	h.mu.Unlock()

	return HandoffStats{
		Sent:     h.sent.Load(),
		Received: h.received.Load(),
		Dropped:  h.dropped.Load(),
		Depth:    depth,
		Peak:     peak,
		Capacity: h.capacity,
	}
}

func (h *Handoff) wake() {
	h.mu.Lock()
	h.cond.Broadcast()
	h.mu.Unlock()
}
