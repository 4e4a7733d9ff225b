package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	streamrelay "github.com/e7canasta/stream-relay"
	"github.com/e7canasta/stream-relay/internal/camerasrc"
	"github.com/e7canasta/stream-relay/internal/config"
	"github.com/e7canasta/stream-relay/internal/gstpipe"
	"github.com/e7canasta/stream-relay/internal/statusapi"
	"github.com/e7canasta/stream-relay/internal/synthsource"
	"github.com/e7canasta/stream-relay/internal/telemetry"
)

var errAlreadyStopping = errors.New("relay is not streaming")

// newSource selects the frame source named in the configuration
func newSource(f *config.File) streamrelay.FrameSource {
	if f.Camera.Source == "synthetic" {
		return synthsource.New(synthsource.Options{})
	}
	return camerasrc.New(f.Camera.Device)
}

// run configures the relay and runs it together with the status server and
// telemetry until ctx is cancelled or the relay stops.
func run(ctx context.Context, f *config.File) error {
	cfg, err := f.RelayConfig()
	if err != nil {
		return err
	}

	bridge, err := streamrelay.NewBridge(cfg, newSource(f), gstpipe.NewBuilder())
	if err != nil {
		return err
	}

	printBanner(f, cfg)

	if err := bridge.Configure(ctx); err != nil {
		return err
	}

	var tel telemetryStarter
	if f.MQTT.Broker != "" {
		tel = func(ctx context.Context, g *errgroup.Group, shutdown context.CancelFunc) {
			startTelemetry(ctx, g, f, bridge, shutdown)
		}
	}

	err = serve(ctx, f, bridge, tel)
	st := bridge.Stats()
	fmt.Printf("\n%s captured=%d forwarded=%d injected=%d drops=%d failures=%d uptime=%s\n",
		color.New(color.Bold).Sprint("Relay stopped:"),
		st.FramesCaptured, st.FramesForwarded, st.SamplesInjected,
		st.HandoffDrops, st.InjectionFailures, st.Uptime.Round(time.Millisecond))
	return err
}

// telemetryStarter starts the MQTT side channel in g. shutdown requests a
// graceful relay stop.
type telemetryStarter func(ctx context.Context, g *errgroup.Group, shutdown context.CancelFunc)

// serve runs a configured bridge with the status server and telemetry.
// Only the bridge and the status server can fail the group: telemetry
// problems are logged and streaming continues.
func serve(ctx context.Context, f *config.File, bridge *streamrelay.Bridge, tel telemetryStarter) error {
	g, gctx := errgroup.WithContext(ctx)

	// The relay drains on relayCtx. Auxiliary services stop once it returns.
	relayCtx, shutdown := context.WithCancel(gctx)
	defer shutdown()
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	g.Go(func() error {
		defer stopAux()
		return bridge.Run(relayCtx)
	})

	if f.Status.Addr != "" {
		g.Go(func() error {
			return statusapi.Serve(auxCtx, f.Status.Addr, statusapi.NewRouter(f.InstanceID, bridge))
		})
	}

	if tel != nil {
		tel(auxCtx, g, shutdown)
	}

	return g.Wait()
}

// startTelemetry connects to the broker and starts the health publisher and
// the control handler. A broker that cannot be reached is not fatal.
func startTelemetry(ctx context.Context, g *errgroup.Group, f *config.File, bridge *streamrelay.Bridge, shutdown context.CancelFunc) {
	emitter := telemetry.NewEmitter(f.MQTT.Broker, f.InstanceID, f.MQTT.Topics.Health)
	if err := emitter.Connect(ctx); err != nil {
		slog.Warn("stream-relay: telemetry disabled", "error", err)
		return
	}

	handler := telemetry.NewHandler(emitter.Client(), f.MQTT.Topics.Control, controlCallbacks(f, bridge, shutdown))
	runTelemetry(ctx, g, f.HealthInterval(), emitter, handler, bridge)
}

// runTelemetry starts the health publisher and the control handler. Neither
// returns an error to g.
func runTelemetry(ctx context.Context, g *errgroup.Group, interval time.Duration, emitter *telemetry.Emitter, handler *telemetry.Handler, bridge *streamrelay.Bridge) {
	g.Go(func() error {
		defer emitter.Disconnect()
		if err := emitter.RunHealth(ctx, interval, bridge); err != nil {
			slog.Warn("stream-relay: health reports stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := handler.Run(ctx); err != nil {
			slog.Warn("stream-relay: control commands unavailable, streaming continues", "error", err)
		}
		return nil
	})
}

func controlCallbacks(f *config.File, bridge *streamrelay.Bridge, shutdown context.CancelFunc) telemetry.Callbacks {
	return telemetry.Callbacks{
		OnGetStatus: func() map[string]any {
			st := statusapi.NewStatsResponse(f.InstanceID, bridge.Stats())
			return map[string]any{
				"state":              st.State,
				"session":            st.Session,
				"uptime_s":           st.UptimeSeconds,
				"frames_captured":    st.FramesCaptured,
				"frames_forwarded":   st.FramesForwarded,
				"handoff_drops":      st.HandoffDrops,
				"samples_injected":   st.SamplesInjected,
				"injection_failures": st.InjectionFailures,
			}
		},
		OnShutdown: func() error {
			if bridge.State() != streamrelay.StateStreaming {
				return errAlreadyStopping
			}
			slog.Info("stream-relay: shutdown requested over MQTT")
			shutdown()
			return nil
		},
	}
}

func printBanner(f *config.File, cfg streamrelay.Config) {
	title := color.New(color.FgCyan, color.Bold)
	label := color.New(color.Faint)

	fmt.Printf("\n")
	title.Printf("Stream Relay %s\n", version)
	fmt.Printf("\n")
	fmt.Printf("%s %s (%s)\n", label.Sprint("  Source:     "), f.Camera.Source, f.Camera.Device)
	fmt.Printf("%s %s %dx%d@%d %s\n", label.Sprint("  Stream:     "), cfg.StreamKind, cfg.Width, cfg.Height, cfg.Framerate, cfg.Format)
	fmt.Printf("%s %s\n", label.Sprint("  Destination:"), color.CyanString("rtp://%s", cfg.Destination()))
	fmt.Printf("%s %d kbit/s, %s, %s\n", label.Sprint("  Encoder:    "), cfg.Encoder.Bitrate, cfg.Encoder.SpeedPreset, cfg.Encoder.Tune)
	fmt.Printf("%s capacity %d, %s\n", label.Sprint("  Handoff:    "), cfg.Handoff.Capacity, cfg.Handoff.Policy)
	if f.Status.Addr != "" {
		fmt.Printf("%s %s\n", label.Sprint("  Status:     "), color.CyanString("http://%s/healthz", f.Status.Addr))
	}
	if f.MQTT.Broker != "" {
		fmt.Printf("%s %s (%s)\n", label.Sprint("  MQTT:       "), f.MQTT.Broker, f.MQTT.Topics.Control)
	}
	fmt.Printf("\nPress %s to stop\n\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
}
