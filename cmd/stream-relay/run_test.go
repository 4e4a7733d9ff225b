package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	streamrelay "github.com/e7canasta/stream-relay"
	"github.com/e7canasta/stream-relay/internal/config"
	"github.com/e7canasta/stream-relay/internal/synthsource"
	"github.com/e7canasta/stream-relay/internal/telemetry"
)

// countingInjector accepts every sample
type countingInjector struct {
	injected atomic.Int64
}

func (i *countingInjector) SetFormat(string) error               { return nil }
func (i *countingInjector) Inject(streamrelay.MediaSample) error { i.injected.Add(1); return nil }
func (i *countingInjector) EndOfStream() error                   { return nil }

// nullPipeline stands in for GStreamer
type nullPipeline struct {
	inj  *countingInjector
	errs chan error
	once sync.Once
}

func (p *nullPipeline) SetState(streamrelay.PipelineState) error { return nil }
func (p *nullPipeline) IngestionPoint(string) (streamrelay.Injector, error) {
	return p.inj, nil
}
func (p *nullPipeline) Errors() <-chan error { return p.errs }
func (p *nullPipeline) Close() error {
	p.once.Do(func() { close(p.errs) })
	return nil
}

type nullBuilder struct{ p *nullPipeline }

func (b nullBuilder) Build(string) (streamrelay.Pipeline, error) { return b.p, nil }

// failedToken is a completed token carrying err
type failedToken struct{ err error }

func (t failedToken) Wait() bool                     { return true }
func (t failedToken) WaitTimeout(time.Duration) bool { return true }
func (t failedToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t failedToken) Error() error { return t.err }

// deniedClient refuses every subscription, like a broker ACL would
type deniedClient struct {
	mqtt.Client
	subscribed chan struct{}
}

func (c *deniedClient) IsConnected() bool { return true }
func (c *deniedClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	close(c.subscribed)
	return failedToken{err: errors.New("not authorized")}
}

func TestServe_ControlFailureKeepsStreaming(t *testing.T) {
	cfg := streamrelay.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	cfg.Host = "127.0.0.1"
	cfg.FrameWaitTimeout = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	inj := &countingInjector{}
	pipeline := &nullPipeline{inj: inj, errs: make(chan error, 1)}
	bridge, err := streamrelay.NewBridge(cfg, synthsource.New(synthsource.Options{}), nullBuilder{p: pipeline})
	require.NoError(t, err)
	require.NoError(t, bridge.Configure(context.Background()))

	f := config.Default()
	client := &deniedClient{subscribed: make(chan struct{})}
	stops := make(chan context.CancelFunc, 1)
	tel := func(ctx context.Context, g *errgroup.Group, shutdown context.CancelFunc) {
		emitter := telemetry.NewEmitter("tcp://127.0.0.1:1883", f.InstanceID, f.MQTT.Topics.Health)
		handler := telemetry.NewHandler(client, f.MQTT.Topics.Control, controlCallbacks(f, bridge, shutdown))
		runTelemetry(ctx, g, time.Hour, emitter, handler, bridge)
		stops <- shutdown
	}

	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), f, bridge, tel) }()

	shutdown := <-stops
	select {
	case <-client.subscribed:
	case <-time.After(time.Second):
		t.Fatal("control handler never subscribed")
	}

	// Frames keep flowing after the control subscription was refused
	after := inj.injected.Load()
	require.Eventually(t, func() bool { return inj.injected.Load() >= after+3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, streamrelay.StateStreaming, bridge.State())

	shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
	assert.Equal(t, streamrelay.StateStopped, bridge.State())
}
