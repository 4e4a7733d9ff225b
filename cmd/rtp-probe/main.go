// Command rtp-probe listens for the relay's RTP/H.264 output and reports
// whether a receiver could play it.
//
// Usage:
//
//	rtp-probe --listen :5600 --duration 10s
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/e7canasta/stream-relay/internal/rtpcheck"
)

const version = "v0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen      string
		duration    time.Duration
		payloadType uint8
		debug       bool
	)

	cmd := &cobra.Command{
		Use:           "rtp-probe",
		Short:         "Verify an H.264 RTP stream sent by stream-relay",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			checker, err := rtpcheck.NewChecker(payloadType)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := rtpcheck.Listen(ctx, listen, checker, duration); err != nil {
				return err
			}

			printReport(checker.Report())
			if !checker.Report().Playable() {
				return errors.New("stream is not playable (need SPS, PPS and an IDR frame)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", ":5600", "UDP address to listen on")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 10*time.Second, "How long to listen (0 = until Ctrl+C)")
	cmd.Flags().Uint8Var(&payloadType, "payload-type", 96, "Expected RTP payload type")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log rejected packets")
	return cmd
}

func printReport(r rtpcheck.Report) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	mark := func(good bool) string {
		if good {
			return ok("ok")
		}
		return bad("missing")
	}

	fmt.Printf("\n")
	color.New(color.Bold).Printf("RTP probe report\n")
	fmt.Printf("  SSRC:            %08x\n", r.SSRC)
	fmt.Printf("  Packets:         %d (%d bytes in %s)\n", r.Packets, r.Bytes, r.Duration().Round(time.Millisecond))
	fmt.Printf("  Invalid:         %d\n", r.InvalidPackets)
	fmt.Printf("  Wrong PT:        %d\n", r.PayloadTypeMismatch)
	fmt.Printf("  Sequence gaps:   %d (%d lost, %d reordered)\n", r.SequenceGaps, r.LostPackets, r.Reordered)
	fmt.Printf("  Access units:    %d\n", r.AccessUnits)
	fmt.Printf("  Decode errors:   %d\n", r.DecodeErrors)
	fmt.Printf("  SPS:             %d %s\n", r.SPS, mark(r.SPS > 0))
	fmt.Printf("  PPS:             %d %s\n", r.PPS, mark(r.PPS > 0))
	fmt.Printf("  IDR frames:      %d %s\n", r.IDRFrames, mark(r.IDRFrames > 0))
	if d := r.Duration(); d > 0 && r.AccessUnits > 1 {
		fmt.Printf("  Frame rate:      %.1f fps\n", float64(r.AccessUnits-1)/d.Seconds())
	}
	fmt.Printf("\n")
}
