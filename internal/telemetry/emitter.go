package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	streamrelay "github.com/e7canasta/stream-relay"
)

// StatsProvider is implemented by *streamrelay.Bridge
type StatsProvider interface {
	Stats() streamrelay.Stats
}

// Emitter publishes health reports to the broker
type Emitter struct {
	broker      string
	instanceID  string
	healthTopic string
	client      mqtt.Client

	connectTimeout time.Duration
	retryInterval  time.Duration

	connected atomic.Bool
	published atomic.Uint64
	errors    atomic.Uint64
}

// NewEmitter creates an emitter for broker (e.g. "tcp://localhost:1883")
func NewEmitter(broker, instanceID, healthTopic string) *Emitter {
	return &Emitter{
		broker:      broker,
		instanceID:  instanceID,
		healthTopic: healthTopic,

		connectTimeout: 5 * time.Second,
		retryInterval:  2 * time.Second,
	}
}

// Connect establishes the broker connection. The client reconnects on its own
// afterwards. If Connect fails the client is shut down and stops retrying.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.broker)
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(e.retryInterval)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.connected.Store(true)
		slog.Info("telemetry: mqtt connection established",
			"broker", e.broker,
			"client_id", e.instanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("telemetry: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	slog.Info("telemetry: connecting to mqtt broker", "broker", e.broker)

	token := e.client.Connect()
	var err error
	select {
	case <-token.Done():
		if terr := token.Error(); terr != nil {
			err = fmt.Errorf("telemetry: mqtt connection failed: %w", terr)
		}
	case <-time.After(e.connectTimeout):
		err = fmt.Errorf("telemetry: mqtt connection timeout")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		e.abandon()
		return err
	}
	e.connected.Store(true)
	return nil
}

// abandon stops a client that never connected, including its retry loop
func (e *Emitter) abandon() {
	e.client.Disconnect(0)
	e.connected.Store(false)
	slog.Debug("telemetry: mqtt connect abandoned", "broker", e.broker)
}

// Client returns the underlying MQTT client (nil before Connect)
func (e *Emitter) Client() mqtt.Client {
	return e.client
}

// PublishHealth publishes one health report
func (e *Emitter) PublishHealth(report HealthReport) error {
	if !e.connected.Load() {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: mqtt not connected")
	}

	payload, err := EncodeHealth(report)
	if err != nil {
		e.errors.Add(1)
		return err
	}

	token := e.client.Publish(e.healthTopic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		return fmt.Errorf("telemetry: publish failed: %w", err)
	}

	e.published.Add(1)
	slog.Debug("telemetry: health published",
		"topic", e.healthTopic,
		"size", len(payload),
		"state", report.State,
	)
	return nil
}

// RunHealth publishes a report every interval until ctx is cancelled. A final
// report is published on the way out so subscribers see the stopped state.
func (e *Emitter) RunHealth(ctx context.Context, interval time.Duration, provider StatsProvider) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := e.PublishHealth(NewHealthReport(e.instanceID, provider.Stats(), time.Now())); err != nil {
				slog.Debug("telemetry: final health report not published", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := e.PublishHealth(NewHealthReport(e.instanceID, provider.Stats(), time.Now())); err != nil {
				slog.Warn("telemetry: health publish failed", "error", err)
			}
		}
	}
}

// Disconnect closes the broker connection
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("telemetry: mqtt disconnected",
			"published", e.published.Load(),
			"errors", e.errors.Load(),
		)
	}
	e.connected.Store(false)
}
