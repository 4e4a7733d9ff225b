// Package streamrelay relays raw camera frames into a GStreamer H.264/RTP/UDP
// pipeline.
//
// A Frame Relay goroutine polls a camera Session and copies each frame into a
// FrameBuffer. Buffers cross a bounded Handoff to the Stream Sink, which
// timestamps them and injects them into the pipeline's appsrc. A Bridge owns
// the whole lifecycle.
//
// # Quick Start
//
//	cfg := streamrelay.DefaultConfig()
//	cfg.Host = "192.168.0.142"
//	cfg.Port = 5600
//
//	bridge, err := streamrelay.NewBridge(cfg, camerasrc.New("/dev/video0"), gstpipe.NewBuilder())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := bridge.Configure(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Blocks until ctx is cancelled, the camera faults or the pipeline fails
//	if err := bridge.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Lifecycle
//
//	Uninitialized → DevicesConfigured → Streaming → Draining → Stopped
//
//   - Configure: session opened, pipeline built, appsrc caps declared
//   - Run: pipeline Playing, relay and sink running
//   - Draining: entered on shutdown, device fault or pipeline fault; the
//     relay stops and the sink flushes the handoff (bounded by ShutdownTimeout)
//   - Stopped: EOS sent, pipeline Null, session closed
//
// # Backpressure
//
// The Handoff holds at most Handoff.Capacity buffers (default 4):
//
//   - PolicyBlock (default): the relay waits up to BlockTimeout for space,
//     then drops the incoming frame
//   - PolicyDropOldest: the oldest queued frame is evicted
//
// Every dropped frame is counted in Stats.HandoffDrops.
//
// # Frame Format
//
// Color frames are interleaved RGB, Width × Height × 3 bytes
// (640x480: 921,600 bytes). Frames of any other size are skipped and counted
// in Stats.FramesInvalid.
//
// # Thread Safety
//
// State() and Stats() can be called from any goroutine. Configure and Run are
// called once, in that order, by the owner of the Bridge.
package streamrelay
