package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	streamrelay "github.com/e7canasta/stream-relay"
)

func TestDefault(t *testing.T) {
	f := Default()

	assert.Equal(t, "stream-relay", f.InstanceID)
	assert.Equal(t, "camera", f.Camera.Source)
	assert.Equal(t, "Color", f.Camera.Type)
	assert.Equal(t, "RGB8", f.Camera.Format)
	assert.Equal(t, 640, f.Camera.Width)
	assert.Equal(t, 480, f.Camera.Height)
	assert.Equal(t, 30, f.Camera.Framerate)
	assert.Equal(t, "192.168.0.142", f.Stream.Host)
	assert.Equal(t, 5600, f.Stream.Port)
	assert.Equal(t, "block", f.Relay.HandoffPolicy)
	assert.Equal(t, "continue", f.Relay.OnInjectionError)
	assert.Equal(t, "relay/control/stream-relay", f.MQTT.Topics.Control)
	assert.Equal(t, "relay/health/stream-relay", f.MQTT.Topics.Health)
	assert.Equal(t, 10*time.Second, f.HealthInterval())

	cfg, err := f.RelayConfig()
	require.NoError(t, err)
	assert.Equal(t, streamrelay.DefaultConfig(), cfg)
}

func TestLoad(t *testing.T) {
	yaml := `
instance_id: lab-cam-1
camera:
  source: synthetic
  type: Infrared
  width: 848
  height: 480
  framerate: 15
stream:
  host: 10.0.0.5
  port: 6000
  bitrate: 2500
relay:
  handoff_capacity: 8
  handoff_policy: drop-oldest
  on_injection_error: abort
  shutdown_timeout_s: 2
status:
  addr: ":9090"
mqtt:
  broker: tcp://localhost:1883
`
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", f.Camera.Source)
	assert.Equal(t, "Y8", f.Camera.Format, "infrared defaults to Y8")
	assert.Equal(t, ":9090", f.Status.Addr)
	assert.Equal(t, "relay/control/lab-cam-1", f.MQTT.Topics.Control)

	cfg, err := f.RelayConfig()
	require.NoError(t, err)
	assert.Equal(t, streamrelay.StreamInfrared, cfg.StreamKind)
	assert.Equal(t, streamrelay.FormatY8, cfg.Format)
	assert.Equal(t, 848, cfg.Width)
	assert.Equal(t, 15, cfg.Framerate)
	assert.Equal(t, "10.0.0.5", cfg.Host)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, 2500, cfg.Encoder.Bitrate)
	assert.Equal(t, 8, cfg.Handoff.Capacity)
	assert.Equal(t, streamrelay.PolicyDropOldest, cfg.Handoff.Policy)
	assert.Equal(t, streamrelay.InjectionAbort, cfg.OnInjectionError)
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Second, cfg.FrameWaitTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad instance id", "instance_id: Lab_Cam"},
		{"unknown camera type", "camera:\n  type: color"},
		{"unknown source", "camera:\n  source: rtsp"},
		{"unknown format", "camera:\n  format: BGR8"},
		{"bad port", "stream:\n  port: 70000"},
		{"unknown policy", "relay:\n  handoff_policy: newest"},
		{"unknown injection policy", "relay:\n  on_injection_error: retry"},
		{"not yaml", "camera: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRelayConfig_ValidatesResult(t *testing.T) {
	f := Default()
	f.Stream.PayloadType = 33

	_, err := f.RelayConfig()
	assert.ErrorIs(t, err, streamrelay.ErrInvalidConfig)
}
