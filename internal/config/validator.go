package config

import (
	"fmt"
	"regexp"

	streamrelay "github.com/e7canasta/stream-relay"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults for unset fields
func Validate(f *File) error {
	def := streamrelay.DefaultConfig()

	if f.InstanceID == "" {
		f.InstanceID = "stream-relay"
	}
	if !instanceIDPattern.MatchString(f.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	// Camera
	if f.Camera.Source == "" {
		f.Camera.Source = "camera"
	}
	if f.Camera.Source != "camera" && f.Camera.Source != "synthetic" {
		return fmt.Errorf("camera.source must be camera or synthetic, got %q", f.Camera.Source)
	}
	if f.Camera.Device == "" {
		f.Camera.Device = "/dev/video0"
	}
	if f.Camera.Type == "" {
		f.Camera.Type = def.StreamKind.String()
	}
	kind, err := streamrelay.ParseStreamKind(f.Camera.Type)
	if err != nil {
		return fmt.Errorf("camera.type: %w", err)
	}
	if f.Camera.Format != "" {
		if _, err := streamrelay.ParsePixelFormat(f.Camera.Format); err != nil {
			return fmt.Errorf("camera.format: %w", err)
		}
	} else {
		f.Camera.Format = kind.DefaultFormat().String()
	}
	if f.Camera.Width == 0 {
		f.Camera.Width = def.Width
	}
	if f.Camera.Height == 0 {
		f.Camera.Height = def.Height
	}
	if f.Camera.Framerate == 0 {
		f.Camera.Framerate = def.Framerate
	}
	if f.Camera.Width < 0 || f.Camera.Height < 0 || f.Camera.Framerate < 0 {
		return fmt.Errorf("camera: width, height and framerate must be > 0")
	}

	// Stream
	if f.Stream.Host == "" {
		f.Stream.Host = def.Host
	}
	if f.Stream.Port == 0 {
		f.Stream.Port = def.Port
	}
	if f.Stream.Port < 1 || f.Stream.Port > 65535 {
		return fmt.Errorf("stream.port %d out of range", f.Stream.Port)
	}
	if f.Stream.Bitrate == 0 {
		f.Stream.Bitrate = def.Encoder.Bitrate
	}
	if f.Stream.SpeedPreset == "" {
		f.Stream.SpeedPreset = def.Encoder.SpeedPreset
	}
	if f.Stream.Tune == "" {
		f.Stream.Tune = def.Encoder.Tune
	}
	if f.Stream.KeyIntMax == 0 {
		f.Stream.KeyIntMax = def.Encoder.KeyIntMax
	}
	if f.Stream.PayloadType == 0 {
		f.Stream.PayloadType = def.Encoder.PayloadType
	}

	// Relay
	if f.Relay.HandoffCapacity == 0 {
		f.Relay.HandoffCapacity = def.Handoff.Capacity
	}
	if f.Relay.HandoffPolicy == "" {
		f.Relay.HandoffPolicy = def.Handoff.Policy.String()
	}
	if _, err := streamrelay.ParseDropPolicy(f.Relay.HandoffPolicy); err != nil {
		return fmt.Errorf("relay.handoff_policy: %w", err)
	}
	if f.Relay.BlockTimeoutMS == 0 {
		f.Relay.BlockTimeoutMS = int(def.Handoff.BlockTimeout.Milliseconds())
	}
	if f.Relay.FrameWaitTimeoutMS == 0 {
		f.Relay.FrameWaitTimeoutMS = int(def.FrameWaitTimeout.Milliseconds())
	}
	if f.Relay.ShutdownTimeoutS == 0 {
		f.Relay.ShutdownTimeoutS = int(def.ShutdownTimeout.Seconds())
	}
	if f.Relay.OnInjectionError == "" {
		f.Relay.OnInjectionError = def.OnInjectionError.String()
	}
	if _, err := streamrelay.ParseInjectionFailurePolicy(f.Relay.OnInjectionError); err != nil {
		return fmt.Errorf("relay.on_injection_error: %w", err)
	}

	// MQTT: topics only matter when a broker is set
	if f.MQTT.Topics.Control == "" {
		f.MQTT.Topics.Control = fmt.Sprintf("relay/control/%s", f.InstanceID)
	}
	if f.MQTT.Topics.Health == "" {
		f.MQTT.Topics.Health = fmt.Sprintf("relay/health/%s", f.InstanceID)
	}
	if f.MQTT.HealthIntervalS == 0 {
		f.MQTT.HealthIntervalS = 10
	}
	if f.MQTT.HealthIntervalS < 0 {
		return fmt.Errorf("mqtt.health_interval_s must be > 0")
	}

	return nil
}
