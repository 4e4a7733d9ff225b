// Command stream-relay captures frames from a camera and streams them as
// H.264 over RTP/UDP.
//
// Usage:
//
//	stream-relay --width 640 --height 480 --framerate 30 \
//	    --destination-host 192.168.0.142 --port 5600 --cam-type Color
//
//	stream-relay --config relay.yaml --metrics-addr :9100
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information
const version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "stream-relay",
		Short:         "Relay camera frames to an H.264 RTP/UDP stream",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(opts.Debug, opts.LogFormat); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}

			file, err := opts.resolve(cmd.Flags())
			if err != nil {
				slog.Error("stream-relay: configuration rejected", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, file); err != nil {
				slog.Error("stream-relay: exited with error", "error", err)
				return err
			}
			return nil
		},
	}
	opts.register(cmd.Flags())
	return cmd
}

func setupLogging(debug bool, format string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
