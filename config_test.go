package streamrelay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=30/1", cfg.Caps())
	assert.Equal(t, "192.168.0.142:5600", cfg.Destination())
	assert.Equal(t, 640*480*3, cfg.Source().FrameSize())
}

func TestConfig_PipelineDescription(t *testing.T) {
	cfg := DefaultConfig()
	want := "appsrc name=source format=time is-live=true " +
		"caps=video/x-raw,format=RGB,width=640,height=480,framerate=30/1" +
		" ! videoconvert ! video/x-raw,format=I420" +
		" ! x264enc bitrate=5000 speed-preset=ultrafast tune=zerolatency key-int-max=30" +
		" ! rtph264pay config-interval=1 pt=96" +
		" ! udpsink host=192.168.0.142 port=5600"
	assert.Equal(t, want, cfg.PipelineDescription())

	cfg.Encoder.KeyIntMax = 0
	cfg.StreamKind = StreamDepth
	cfg.Format = FormatZ16
	desc := cfg.PipelineDescription()
	assert.NotContains(t, desc, "key-int-max")
	assert.Contains(t, desc, "format=GRAY16_LE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "zero width", mutate: func(c *Config) { c.Width = 0 }, want: ErrInvalidConfig},
		{name: "zero framerate", mutate: func(c *Config) { c.Framerate = 0 }, want: ErrInvalidConfig},
		{name: "unknown stream kind", mutate: func(c *Config) { c.StreamKind = StreamKind(9) }, want: ErrInvalidStreamKind},
		{name: "negative stream kind", mutate: func(c *Config) { c.StreamKind = StreamKind(-1) }, want: ErrInvalidStreamKind},
		{name: "unknown format", mutate: func(c *Config) { c.Format = PixelFormat(9) }, want: ErrInvalidConfig},
		{name: "empty host", mutate: func(c *Config) { c.Host = "" }, want: ErrInvalidConfig},
		{name: "host injects elements", mutate: func(c *Config) { c.Host = "1.2.3.4 ! fakesink" }, want: ErrInvalidConfig},
		{name: "port zero", mutate: func(c *Config) { c.Port = 0 }, want: ErrInvalidConfig},
		{name: "port too large", mutate: func(c *Config) { c.Port = 65536 }, want: ErrInvalidConfig},
		{name: "zero bitrate", mutate: func(c *Config) { c.Encoder.Bitrate = 0 }, want: ErrInvalidConfig},
		{name: "negative key-int-max", mutate: func(c *Config) { c.Encoder.KeyIntMax = -1 }, want: ErrInvalidConfig},
		{name: "static payload type", mutate: func(c *Config) { c.Encoder.PayloadType = 33 }, want: ErrInvalidConfig},
		{name: "zero capacity", mutate: func(c *Config) { c.Handoff.Capacity = 0 }, want: ErrInvalidConfig},
		{name: "block without timeout", mutate: func(c *Config) { c.Handoff.BlockTimeout = 0 }, want: ErrInvalidConfig},
		{name: "zero frame wait", mutate: func(c *Config) { c.FrameWaitTimeout = 0 }, want: ErrInvalidConfig},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, want: ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}

	cfg := DefaultConfig()
	cfg.Handoff = HandoffConfig{Capacity: 2, Policy: PolicyDropOldest}
	cfg.ShutdownTimeout = time.Second
	assert.NoError(t, cfg.Validate(), "drop-oldest needs no block timeout")
}

func TestParsers(t *testing.T) {
	kinds := map[string]StreamKind{
		"Depth":    StreamDepth,
		"Color":    StreamColor,
		"Infrared": StreamInfrared,
		"Fisheye":  StreamFisheye,
	}
	for name, kind := range kinds {
		got, err := ParseStreamKind(name)
		require.NoError(t, err)
		assert.Equal(t, kind, got)
		assert.Equal(t, name, kind.String())
	}
	_, err := ParseStreamKind("color")
	assert.ErrorIs(t, err, ErrInvalidStreamKind)

	assert.Equal(t, FormatRGB8, StreamColor.DefaultFormat())
	assert.Equal(t, FormatZ16, StreamDepth.DefaultFormat())
	assert.Equal(t, FormatY8, StreamInfrared.DefaultFormat())

	for _, name := range []string{"RGB8", "Z16", "Y8"} {
		f, err := ParsePixelFormat(name)
		require.NoError(t, err)
		assert.Equal(t, name, f.String())
	}
	_, err = ParsePixelFormat("NV12")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	for _, name := range []string{"block", "drop-oldest"} {
		p, err := ParseDropPolicy(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	_, err = ParseDropPolicy("drop-newest")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	for _, name := range []string{"continue", "abort"} {
		p, err := ParseInjectionFailurePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.String())
	}
	_, err = ParseInjectionFailurePolicy("retry")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "faulted", SessionFaulted.String())
	assert.Equal(t, "playing", PipelinePlaying.String())
}
