// Package config loads the relay configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	streamrelay "github.com/e7canasta/stream-relay"
)

// File is the YAML configuration of a relay instance
type File struct {
	InstanceID string       `yaml:"instance_id"`
	Camera     CameraConfig `yaml:"camera"`
	Stream     StreamConfig `yaml:"stream"`
	Relay      RelayConfig  `yaml:"relay"`
	Status     StatusConfig `yaml:"status"`
	MQTT       MQTTConfig   `yaml:"mqtt"`
}

// CameraConfig selects the frame source
type CameraConfig struct {
	Source    string `yaml:"source"` // camera, synthetic
	Device    string `yaml:"device"` // V4L2 node (camera source only)
	Type      string `yaml:"type"`   // Depth, Color, Infrared, Fisheye
	Format    string `yaml:"format"` // RGB8, Z16, Y8 (default per type)
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Framerate int    `yaml:"framerate"`
}

// StreamConfig configures the encode and transmit pipeline
type StreamConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Bitrate     int    `yaml:"bitrate"` // kbit/s
	SpeedPreset string `yaml:"speed_preset"`
	Tune        string `yaml:"tune"`
	KeyIntMax   int    `yaml:"key_int_max"`
	PayloadType int    `yaml:"payload_type"`
}

// RelayConfig configures the handoff and the shutdown behaviour
type RelayConfig struct {
	HandoffCapacity    int    `yaml:"handoff_capacity"`
	HandoffPolicy      string `yaml:"handoff_policy"` // block, drop-oldest
	BlockTimeoutMS     int    `yaml:"block_timeout_ms"`
	FrameWaitTimeoutMS int    `yaml:"frame_wait_timeout_ms"`
	ShutdownTimeoutS   int    `yaml:"shutdown_timeout_s"`
	OnInjectionError   string `yaml:"on_injection_error"` // continue, abort
}

// StatusConfig configures the HTTP status server
type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// MQTTConfig configures telemetry and remote control
type MQTTConfig struct {
	Broker          string     `yaml:"broker"` // empty disables MQTT
	Topics          MQTTTopics `yaml:"topics"`
	HealthIntervalS int        `yaml:"health_interval_s"`
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Health  string `yaml:"health"`
}

// Default returns a File with every default applied
func Default() *File {
	f := &File{}
	if err := Validate(f); err != nil {
		// Defaults are valid by construction
		panic(err)
	}
	return f
}

// Load reads, parses and validates a YAML configuration file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration data
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&f); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &f, nil
}

// RelayConfig converts the file into a validated relay configuration
func (f *File) RelayConfig() (streamrelay.Config, error) {
	cfg := streamrelay.DefaultConfig()

	kind, err := streamrelay.ParseStreamKind(f.Camera.Type)
	if err != nil {
		return cfg, err
	}
	format := kind.DefaultFormat()
	if f.Camera.Format != "" {
		if format, err = streamrelay.ParsePixelFormat(f.Camera.Format); err != nil {
			return cfg, err
		}
	}
	policy, err := streamrelay.ParseDropPolicy(f.Relay.HandoffPolicy)
	if err != nil {
		return cfg, err
	}
	onErr, err := streamrelay.ParseInjectionFailurePolicy(f.Relay.OnInjectionError)
	if err != nil {
		return cfg, err
	}

	cfg.StreamKind = kind
	cfg.Format = format
	cfg.Width = f.Camera.Width
	cfg.Height = f.Camera.Height
	cfg.Framerate = f.Camera.Framerate
	cfg.Host = f.Stream.Host
	cfg.Port = f.Stream.Port
	cfg.Encoder = streamrelay.EncoderConfig{
		Bitrate:     f.Stream.Bitrate,
		SpeedPreset: f.Stream.SpeedPreset,
		Tune:        f.Stream.Tune,
		KeyIntMax:   f.Stream.KeyIntMax,
		PayloadType: f.Stream.PayloadType,
	}
	cfg.Handoff = streamrelay.HandoffConfig{
		Capacity:     f.Relay.HandoffCapacity,
		Policy:       policy,
		BlockTimeout: time.Duration(f.Relay.BlockTimeoutMS) * time.Millisecond,
	}
	cfg.FrameWaitTimeout = time.Duration(f.Relay.FrameWaitTimeoutMS) * time.Millisecond
	cfg.ShutdownTimeout = time.Duration(f.Relay.ShutdownTimeoutS) * time.Second
	cfg.OnInjectionError = onErr

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// HealthInterval returns the MQTT health publishing period
func (f *File) HealthInterval() time.Duration {
	return time.Duration(f.MQTT.HealthIntervalS) * time.Second
}
