package gstpipe

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	streamrelay "github.com/e7canasta/stream-relay"
)

// Injector pushes MediaSamples into an appsrc element
type Injector struct {
	src     *app.Source
	name    string
	eosSent *atomic.Bool
}

// SetFormat sets the appsrc caps, e.g. "video/x-raw,format=RGB,width=640,height=480,framerate=30/1"
func (i *Injector) SetFormat(caps string) error {
	c := gst.NewCapsFromString(caps)
	if c == nil {
		return fmt.Errorf("gstpipe: invalid caps %q", caps)
	}
	i.src.SetCaps(c)
	slog.Debug("gstpipe: appsrc caps set", "element", i.name, "caps", caps)
	return nil
}

// Inject copies the sample bytes into a new GstBuffer and pushes it.
// The FrameBuffer can be reused once Inject returns.
func (i *Injector) Inject(sample streamrelay.MediaSample) error {
	if len(sample.Buffer.Data) == 0 {
		return fmt.Errorf("gstpipe: empty sample (seq %d)", sample.Buffer.Seq)
	}

	buf := gst.NewBufferFromBytes(sample.Buffer.Data)
	buf.SetPresentationTimestamp(sample.PTS)
	buf.SetDuration(sample.Duration)

	if ret := i.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("gstpipe: push buffer (seq %d): flow %v", sample.Buffer.Seq, ret)
	}
	return nil
}

// EndOfStream signals that no more samples will be pushed
func (i *Injector) EndOfStream() error {
	i.eosSent.Store(true)
	if ret := i.src.EndStream(); ret != gst.FlowOK {
		return fmt.Errorf("gstpipe: end of stream: flow %v", ret)
	}
	return nil
}
