package gstpipe

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// busPollInterval keeps the monitor responsive to cancellation
const busPollInterval = 50 * time.Millisecond

var errUnexpectedEOS = errors.New("gstpipe: unexpected end of stream")

// MonitorBus polls the pipeline bus until ctx is cancelled.
//
// The first fatal message (ERROR, or an EOS while eosExpected is false)
// is sent on errs, then the monitor returns. errs must have room for one
// error.
func MonitorBus(ctx context.Context, pipeline *gst.Pipeline, eosExpected *atomic.Bool, errs chan<- error) {
	bus := pipeline.GetPipelineBus()
	name := pipeline.GetName()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstpipe: context cancelled, stopping bus monitor")
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			if eosExpected != nil && eosExpected.Load() {
				slog.Debug("gstpipe: end of stream reached the sink")
				continue
			}
			slog.Error("gstpipe: unexpected end of stream")
			errs <- errUnexpectedEOS
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			perr := &PipelineError{
				Element: msg.Source(),
				Kind:    ClassifyGError(gerr),
			}
			if gerr != nil {
				perr.Message = gerr.Error()
				perr.Debug = gerr.DebugString()
			}
			slog.Error("gstpipe: pipeline error",
				"element", perr.Element,
				"error", perr.Message,
				"debug", perr.Debug,
				"category", perr.Kind.String(),
			)
			errs <- perr
			return

		case gst.MessageWarning:
			if gerr := msg.ParseWarning(); gerr != nil {
				slog.Warn("gstpipe: pipeline warning",
					"element", msg.Source(),
					"warning", gerr.Error(),
				)
			}

		case gst.MessageStateChanged:
			if msg.Source() == name {
				old, next := msg.ParseStateChanged()
				slog.Debug("gstpipe: pipeline state changed",
					"from", old.String(),
					"to", next.String(),
				)
			}
		}
	}
}
