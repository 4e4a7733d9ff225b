package streamrelay

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// IngestionPointName is the element name the pipeline description gives the appsrc
const IngestionPointName = "source"

// EncoderConfig configures the H.264 encoder stage of the pipeline
type EncoderConfig struct {
	// Bitrate in kbit/s
	Bitrate int
	// SpeedPreset is the x264 speed preset name
	SpeedPreset string
	// Tune is the x264 tuning name
	Tune string
	// KeyIntMax is the maximum GOP length in frames (0 = encoder default)
	KeyIntMax int
	// PayloadType is the RTP payload type
	PayloadType int
}

// Config is the complete relay configuration
type Config struct {
	// Camera stream
	Width      int
	Height     int
	Framerate  int
	StreamKind StreamKind
	Format     PixelFormat

	// Network destination
	Host string
	Port int

	Encoder EncoderConfig
	Handoff HandoffConfig

	// FrameWaitTimeout bounds one camera wait
	FrameWaitTimeout time.Duration
	// ShutdownTimeout bounds draining after shutdown was requested
	ShutdownTimeout time.Duration
	// OnInjectionError decides what the sink does with a rejected sample
	OnInjectionError InjectionFailurePolicy
}

// DefaultConfig returns the relay defaults: 640x480@30 color to
// 192.168.0.142:5600.
func DefaultConfig() Config {
	return Config{
		Width:      640,
		Height:     480,
		Framerate:  30,
		StreamKind: StreamColor,
		Format:     FormatRGB8,
		Host:       "192.168.0.142",
		Port:       5600,
		Encoder: EncoderConfig{
			Bitrate:     5000,
			SpeedPreset: "ultrafast",
			Tune:        "zerolatency",
			KeyIntMax:   30,
			PayloadType: 96,
		},
		Handoff:          DefaultHandoffConfig(),
		FrameWaitTimeout: DefaultFrameWaitTimeout,
		ShutdownTimeout:  5 * time.Second,
		OnInjectionError: InjectionContinue,
	}
}

// Validate checks the configuration. Fail-fast: the first problem is returned.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("stream-relay: %w: resolution %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("stream-relay: %w: framerate must be > 0 (got %d)", ErrInvalidConfig, c.Framerate)
	}
	if c.StreamKind < StreamDepth || c.StreamKind > StreamFisheye {
		return fmt.Errorf("stream-relay: %w: %s", ErrInvalidStreamKind, c.StreamKind)
	}
	if c.Format.BytesPerPixel() == 0 {
		return fmt.Errorf("stream-relay: %w: pixel format %s", ErrInvalidConfig, c.Format)
	}
	if c.Host == "" {
		return fmt.Errorf("stream-relay: %w: destination host is required", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.Host, " !\t\n") {
		return fmt.Errorf("stream-relay: %w: destination host %q", ErrInvalidConfig, c.Host)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("stream-relay: %w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.Encoder.Bitrate <= 0 {
		return fmt.Errorf("stream-relay: %w: bitrate must be > 0 (got %d)", ErrInvalidConfig, c.Encoder.Bitrate)
	}
	if c.Encoder.KeyIntMax < 0 {
		return fmt.Errorf("stream-relay: %w: key-int-max must be >= 0", ErrInvalidConfig)
	}
	if c.Encoder.PayloadType < 96 || c.Encoder.PayloadType > 127 {
		return fmt.Errorf("stream-relay: %w: RTP payload type %d (must be dynamic, 96-127)", ErrInvalidConfig, c.Encoder.PayloadType)
	}
	if c.Handoff.Capacity < 1 {
		return fmt.Errorf("stream-relay: %w: handoff capacity %d (must be >= 1)", ErrInvalidConfig, c.Handoff.Capacity)
	}
	if c.Handoff.Policy == PolicyBlock && c.Handoff.BlockTimeout <= 0 {
		return fmt.Errorf("stream-relay: %w: block timeout must be > 0", ErrInvalidConfig)
	}
	if c.FrameWaitTimeout <= 0 {
		return fmt.Errorf("stream-relay: %w: frame wait timeout must be > 0", ErrInvalidConfig)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("stream-relay: %w: shutdown timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Source returns the camera configuration derived from c
func (c Config) Source() SourceConfig {
	return SourceConfig{
		Kind:      c.StreamKind,
		Width:     c.Width,
		Height:    c.Height,
		Format:    c.Format,
		Framerate: c.Framerate,
	}
}

// Caps returns the raw video caps of the injected samples, e.g.
// "video/x-raw,format=RGB,width=640,height=480,framerate=30/1".
func (c Config) Caps() string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/1",
		c.Format.CapsName(), c.Width, c.Height, c.Framerate)
}

// Destination returns host:port of the UDP sink
func (c Config) Destination() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// PipelineDescription returns the gst-launch style description of the
// encode and transmit pipeline: appsrc → videoconvert → x264enc →
// rtph264pay → udpsink.
func (c Config) PipelineDescription() string {
	enc := fmt.Sprintf("x264enc bitrate=%d speed-preset=%s tune=%s",
		c.Encoder.Bitrate, c.Encoder.SpeedPreset, c.Encoder.Tune)
	if c.Encoder.KeyIntMax > 0 {
		enc += fmt.Sprintf(" key-int-max=%d", c.Encoder.KeyIntMax)
	}

	stages := []string{
		fmt.Sprintf("appsrc name=%s format=time is-live=true caps=%s", IngestionPointName, c.Caps()),
		"videoconvert",
		"video/x-raw,format=I420",
		enc,
		fmt.Sprintf("rtph264pay config-interval=1 pt=%d", c.Encoder.PayloadType),
		fmt.Sprintf("udpsink host=%s port=%d", c.Host, c.Port),
	}
	return strings.Join(stages, " ! ")
}
