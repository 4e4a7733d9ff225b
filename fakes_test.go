package streamrelay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeFrame is a SourceFrame backed by a byte slice
type fakeFrame []byte

func (f fakeFrame) Payload() []byte { return f }

// fakeSet is a FrameSet keyed by stream kind
type fakeSet map[StreamKind][]SourceFrame

func (s fakeSet) FramesOfKind(kind StreamKind) []SourceFrame { return s[kind] }

func colorSet(payloads ...[]byte) fakeSet {
	frames := make([]SourceFrame, len(payloads))
	for i, p := range payloads {
		frames[i] = fakeFrame(p)
	}
	return fakeSet{StreamColor: frames}
}

type waitResult struct {
	set FrameSet
	err error
}

// fakeSession replays queued results. With nothing queued it behaves like an
// idle camera and reports ErrWaitTimeout.
type fakeSession struct {
	results chan waitResult
	closed  atomic.Int32

	// stuck makes WaitForFrames ignore ctx and block until Close
	stuck     bool
	released  chan struct{}
	closeOnce sync.Once
	waiting   atomic.Int32
}

func newFakeSession(results ...waitResult) *fakeSession {
	s := &fakeSession{
		results:  make(chan waitResult, len(results)+16),
		released: make(chan struct{}),
	}
	for _, r := range results {
		s.results <- r
	}
	return s
}

func (s *fakeSession) push(r waitResult) { s.results <- r }

func (s *fakeSession) WaitForFrames(ctx context.Context, timeout time.Duration) (FrameSet, error) {
	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	if s.stuck {
		<-s.released
		return nil, errors.New("session closed")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.results:
		return r.set, r.err
	case <-timer.C:
		return nil, ErrWaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.closed.Add(1)
	s.closeOnce.Do(func() { close(s.released) })
	return nil
}

// fakeSource hands out a prepared session
type fakeSource struct {
	session *fakeSession
	openErr error
	opened  atomic.Int32
	lastCfg SourceConfig
}

func (s *fakeSource) Open(ctx context.Context, cfg SourceConfig) (Session, error) {
	s.opened.Add(1)
	s.lastCfg = cfg
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.session, nil
}

// fakeInjector records samples
type fakeInjector struct {
	mu      sync.Mutex
	samples []MediaSample
	caps    string
	eos     int

	// failSeq rejects samples carrying these sequence numbers
	failSeq map[uint64]bool
	// delay slows every injection down
	delay time.Duration
}

func (i *fakeInjector) SetFormat(caps string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.caps = caps
	return nil
}

func (i *fakeInjector) Inject(sample MediaSample) error {
	if i.delay > 0 {
		time.Sleep(i.delay)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failSeq[sample.Buffer.Seq] {
		return errors.New("flow error")
	}
	i.samples = append(i.samples, sample)
	return nil
}

func (i *fakeInjector) EndOfStream() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.eos++
	return nil
}

func (i *fakeInjector) injected() []MediaSample {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]MediaSample(nil), i.samples...)
}

func (i *fakeInjector) eosCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.eos
}

// fakePipeline is a Pipeline whose ingestion point is a fakeInjector
type fakePipeline struct {
	mu       sync.Mutex
	states   []PipelineState
	injector *fakeInjector
	errs     chan error
	closed   int

	ingestionErr error
	playErr      error
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		injector: &fakeInjector{},
		errs:     make(chan error, 1),
	}
}

func (p *fakePipeline) SetState(state PipelineState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if state == PipelinePlaying && p.playErr != nil {
		return p.playErr
	}
	p.states = append(p.states, state)
	return nil
}

func (p *fakePipeline) IngestionPoint(name string) (Injector, error) {
	if p.ingestionErr != nil {
		return nil, p.ingestionErr
	}
	if name != IngestionPointName {
		return nil, ErrIngestionPointNotFound
	}
	return p.injector, nil
}

func (p *fakePipeline) Errors() <-chan error { return p.errs }

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed == 0 {
		close(p.errs)
	}
	p.closed++
	return nil
}

func (p *fakePipeline) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePipeline) stateHistory() []PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PipelineState(nil), p.states...)
}

// fakeBuilder returns a prepared pipeline
type fakeBuilder struct {
	pipeline *fakePipeline
	buildErr error
	desc     string
}

func (b *fakeBuilder) Build(description string) (Pipeline, error) {
	b.desc = description
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	return b.pipeline, nil
}
