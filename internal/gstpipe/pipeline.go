// Package gstpipe implements the streaming pipeline on top of GStreamer.
//
// A pipeline is built from a gst-launch style description. Its appsrc element
// is the ingestion point: samples pushed into it are encoded and sent by the
// downstream elements. A bus monitor goroutine reports fatal errors on
// Pipeline.Errors().
package gstpipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	streamrelay "github.com/e7canasta/stream-relay"
)

// Builder creates GStreamer pipelines from launch descriptions
type Builder struct{}

// NewBuilder initializes GStreamer and returns a Builder
func NewBuilder() *Builder {
	// Safe to call multiple times
	gst.Init(nil)
	return &Builder{}
}

// Build parses description into a pipeline in the NULL state.
//
// The bus monitor starts immediately so that errors raised while changing
// state are reported on Errors().
func (b *Builder) Build(description string) (streamrelay.Pipeline, error) {
	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("gstpipe: parse pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		pipeline: pipeline,
		errs:     make(chan error, 1),
		cancel:   cancel,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		MonitorBus(ctx, pipeline, &p.eosSent, p.errs)
	}()

	slog.Debug("gstpipe: pipeline built", "name", pipeline.GetName())
	return p, nil
}

// Pipeline wraps a *gst.Pipeline
type Pipeline struct {
	pipeline *gst.Pipeline
	errs     chan error

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// eosSent is set by the injector before it signals end-of-stream, so the
	// monitor does not report the resulting EOS as a failure.
	eosSent atomic.Bool
	state   atomic.Int32
	closed  atomic.Bool
}

// SetState moves the pipeline to state
func (p *Pipeline) SetState(state streamrelay.PipelineState) error {
	gstState, err := toGstState(state)
	if err != nil {
		return err
	}
	if err := p.pipeline.SetState(gstState); err != nil {
		return fmt.Errorf("gstpipe: set state %s: %w", state, err)
	}
	p.state.Store(int32(state))
	slog.Debug("gstpipe: pipeline state set", "state", state.String())
	return nil
}

// State returns the last state successfully requested with SetState
func (p *Pipeline) State() streamrelay.PipelineState {
	return streamrelay.PipelineState(p.state.Load())
}

// IngestionPoint returns the appsrc named name as an Injector
func (p *Pipeline) IngestionPoint(name string) (streamrelay.Injector, error) {
	elem, err := p.pipeline.GetElementByName(name)
	if err != nil || elem == nil {
		return nil, fmt.Errorf("gstpipe: element %q: %w", name, streamrelay.ErrIngestionPointNotFound)
	}

	factory := elem.GetFactory()
	if factory == nil || factory.GetName() != "appsrc" {
		kind := "unknown"
		if factory != nil {
			kind = factory.GetName()
		}
		return nil, fmt.Errorf("gstpipe: element %q is a %s: %w", name, kind, streamrelay.ErrNotInjectable)
	}

	return &Injector{
		src:     app.SrcFromElement(elem),
		name:    name,
		eosSent: &p.eosSent,
	}, nil
}

// Errors delivers at most one fatal pipeline error. Closed by Close.
func (p *Pipeline) Errors() <-chan error {
	return p.errs
}

// Close stops the bus monitor and sets the pipeline to NULL. Idempotent.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.cancel()
	p.wg.Wait()
	close(p.errs)

	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstpipe: failed to set pipeline to NULL: %w", err)
	}
	p.state.Store(int32(streamrelay.PipelineNull))
	return nil
}

func toGstState(state streamrelay.PipelineState) (gst.State, error) {
	switch state {
	case streamrelay.PipelineNull:
		return gst.StateNull, nil
	case streamrelay.PipelineReady:
		return gst.StateReady, nil
	case streamrelay.PipelinePaused:
		return gst.StatePaused, nil
	case streamrelay.PipelinePlaying:
		return gst.StatePlaying, nil
	default:
		return gst.StateNull, fmt.Errorf("gstpipe: unknown pipeline state %d", int(state))
	}
}
