// Package telemetry connects a relay instance to an MQTT broker.
//
// Topics (defaults, see internal/config):
//
//	relay/health/{instance}             periodic msgpack HealthReport
//	relay/control/{instance}            JSON commands: get_status, shutdown
//	relay/control/{instance}/responses  JSON command responses
package telemetry

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	streamrelay "github.com/e7canasta/stream-relay"
)

// HealthReport is the periodic health payload
type HealthReport struct {
	InstanceID        string `msgpack:"instance_id"`
	Timestamp         int64  `msgpack:"ts"` // unix milliseconds
	State             string `msgpack:"state"`
	Session           string `msgpack:"session"`
	UptimeMS          int64  `msgpack:"uptime_ms"`
	FramesCaptured    uint64 `msgpack:"frames_captured"`
	FramesForwarded   uint64 `msgpack:"frames_forwarded"`
	FramesInvalid     uint64 `msgpack:"frames_invalid"`
	HandoffDrops      uint64 `msgpack:"handoff_drops"`
	HandoffDepth      int    `msgpack:"handoff_depth"`
	SamplesInjected   uint64 `msgpack:"samples_injected"`
	InjectionFailures uint64 `msgpack:"injection_failures"`
	BytesInjected     uint64 `msgpack:"bytes_injected"`
}

// NewHealthReport builds a report from a stats snapshot
func NewHealthReport(instanceID string, st streamrelay.Stats, now time.Time) HealthReport {
	return HealthReport{
		InstanceID:        instanceID,
		Timestamp:         now.UnixMilli(),
		State:             st.State.String(),
		Session:           st.Session.String(),
		UptimeMS:          st.Uptime.Milliseconds(),
		FramesCaptured:    st.FramesCaptured,
		FramesForwarded:   st.FramesForwarded,
		FramesInvalid:     st.FramesInvalid,
		HandoffDrops:      st.HandoffDrops,
		HandoffDepth:      st.HandoffDepth,
		SamplesInjected:   st.SamplesInjected,
		InjectionFailures: st.InjectionFailures,
		BytesInjected:     st.BytesInjected,
	}
}

// EncodeHealth serializes a report with msgpack
func EncodeHealth(r HealthReport) ([]byte, error) {
	b, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("telemetry: failed to marshal health report: %w", err)
	}
	return b, nil
}

// DecodeHealth parses a msgpack health report
func DecodeHealth(b []byte) (HealthReport, error) {
	var r HealthReport
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("telemetry: failed to unmarshal health report: %w", err)
	}
	return r, nil
}
