package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/e7canasta/stream-relay/internal/config"
)

// options holds the command line flags
type options struct {
	ConfigPath string

	Width     int
	Height    int
	Framerate int
	Host      string
	Port      int
	CamType   string
	Source    string
	Device    string
	Bitrate   int

	HandoffCapacity  int
	HandoffPolicy    string
	OnInjectionError string

	MetricsAddr string
	MQTTBroker  string
	InstanceID  string

	Debug     bool
	LogFormat string
}

func (o *options) register(fs *pflag.FlagSet) {
	def := config.Default()

	fs.StringVarP(&o.ConfigPath, "config", "c", "", "YAML configuration file (flags override file values)")

	fs.IntVar(&o.Width, "width", def.Camera.Width, "Frame width in pixels")
	fs.IntVar(&o.Height, "height", def.Camera.Height, "Frame height in pixels")
	fs.IntVar(&o.Framerate, "framerate", def.Camera.Framerate, "Frames per second")
	fs.StringVar(&o.Host, "destination-host", def.Stream.Host, "RTP destination host")
	fs.IntVar(&o.Port, "port", def.Stream.Port, "RTP destination UDP port")
	fs.StringVar(&o.CamType, "cam-type", def.Camera.Type, "Camera stream: Depth, Color, Infrared, Fisheye")
	fs.StringVar(&o.Source, "source", def.Camera.Source, "Frame source: camera, synthetic")
	fs.StringVar(&o.Device, "device", def.Camera.Device, "V4L2 device (camera source only)")
	fs.IntVar(&o.Bitrate, "bitrate", def.Stream.Bitrate, "x264 bitrate in kbit/s")

	fs.IntVar(&o.HandoffCapacity, "handoff-capacity", def.Relay.HandoffCapacity, "Frames buffered between capture and injection")
	fs.StringVar(&o.HandoffPolicy, "handoff-policy", def.Relay.HandoffPolicy, "Backpressure policy: block, drop-oldest")
	fs.StringVar(&o.OnInjectionError, "on-injection-error", def.Relay.OnInjectionError, "Injection failure policy: continue, abort")

	fs.StringVar(&o.MetricsAddr, "metrics-addr", def.Status.Addr, "Status and metrics HTTP address (empty disables)")
	fs.StringVar(&o.MQTTBroker, "mqtt-broker", def.MQTT.Broker, "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables)")
	fs.StringVar(&o.InstanceID, "instance-id", def.InstanceID, "Instance identifier used in MQTT topics")

	fs.BoolVar(&o.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&o.LogFormat, "log-format", "text", "Log format: text, json")
}

// resolve loads the configuration file (or the defaults) and applies every
// flag the user set explicitly.
func (o *options) resolve(fs *pflag.FlagSet) (*config.File, error) {
	f := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return nil, err
		}
		f = loaded
	}

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}

	set("width", func() { f.Camera.Width = o.Width })
	set("height", func() { f.Camera.Height = o.Height })
	set("framerate", func() { f.Camera.Framerate = o.Framerate })
	set("destination-host", func() { f.Stream.Host = o.Host })
	set("port", func() { f.Stream.Port = o.Port })
	set("cam-type", func() {
		f.Camera.Type = o.CamType
		// Re-derive the pixel format from the new stream
		f.Camera.Format = ""
	})
	set("source", func() { f.Camera.Source = o.Source })
	set("device", func() { f.Camera.Device = o.Device })
	set("bitrate", func() { f.Stream.Bitrate = o.Bitrate })
	set("handoff-capacity", func() { f.Relay.HandoffCapacity = o.HandoffCapacity })
	set("handoff-policy", func() { f.Relay.HandoffPolicy = o.HandoffPolicy })
	set("on-injection-error", func() { f.Relay.OnInjectionError = o.OnInjectionError })
	set("metrics-addr", func() { f.Status.Addr = o.MetricsAddr })
	set("mqtt-broker", func() { f.MQTT.Broker = o.MQTTBroker })
	set("instance-id", func() {
		prev := f.InstanceID
		f.InstanceID = o.InstanceID
		// Derived topics follow the instance, pinned ones are kept
		if f.MQTT.Topics.Control == "relay/control/"+prev {
			f.MQTT.Topics.Control = ""
		}
		if f.MQTT.Topics.Health == "relay/health/"+prev {
			f.MQTT.Topics.Health = ""
		}
	})

	if err := config.Validate(f); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}
