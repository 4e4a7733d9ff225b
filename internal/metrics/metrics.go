// Package metrics provides Prometheus metrics for the stream relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No per-frame labels: seq and trace ids stay in the logs.

var (
	// FramesCaptured counts frames of the configured kind read from the camera.
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_frames_captured_total",
		Help: "Total number of frames copied out of the camera session.",
	})

	// FramesForwarded counts frames accepted by the handoff.
	FramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_frames_forwarded_total",
		Help: "Total number of frames accepted by the relay to sink handoff.",
	})

	// FramesInvalid counts frames skipped because their size did not match the negotiated format.
	FramesInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_frames_invalid_total",
		Help: "Total number of frames skipped because of a payload size mismatch.",
	})

	// HandoffDrops counts frames lost to backpressure, by handoff policy.
	HandoffDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_relay_handoff_drops_total",
		Help: "Total number of frames dropped by the handoff, by policy.",
	}, []string{"policy"})

	// HandoffDepth tracks the number of queued buffers.
	HandoffDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_relay_handoff_depth",
		Help: "Current number of buffers queued between relay and sink.",
	})

	// SamplesInjected counts samples accepted by the streaming pipeline.
	SamplesInjected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_samples_injected_total",
		Help: "Total number of samples accepted by the streaming pipeline.",
	})

	// BytesInjected counts payload bytes accepted by the streaming pipeline.
	BytesInjected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_bytes_injected_total",
		Help: "Total payload bytes accepted by the streaming pipeline.",
	})

	// InjectionFailures counts samples rejected by the streaming pipeline.
	InjectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_injection_failures_total",
		Help: "Total number of samples rejected by the streaming pipeline.",
	})

	// PipelineErrors counts streaming pipeline bus errors, by category.
	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_relay_pipeline_errors_total",
		Help: "Total number of streaming pipeline bus errors, by category.",
	}, []string{"category"})

	// SessionFaults counts camera sessions that ended with a device error.
	SessionFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_relay_session_faults_total",
		Help: "Total number of camera sessions terminated by a device fault.",
	})

	// LifecycleState exposes the bridge lifecycle as a one-hot gauge.
	LifecycleState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_relay_lifecycle_state",
		Help: "Current bridge lifecycle state (1 for the active state, 0 otherwise).",
	}, []string{"state"})
)

// lifecycleStates lists every label value used by LifecycleState.
var lifecycleStates = []string{
	"uninitialized",
	"devices_configured",
	"streaming",
	"draining",
	"stopped",
}

// RecordHandoffDrop increments the drop counter for the given policy.
func RecordHandoffDrop(policy string) {
	HandoffDrops.WithLabelValues(policy).Inc()
}

// RecordInjection records one injection attempt.
func RecordInjection(bytes int, err error) {
	if err != nil {
		InjectionFailures.Inc()
		return
	}
	SamplesInjected.Inc()
	BytesInjected.Add(float64(bytes))
}

// RecordPipelineError increments the pipeline error counter for a category.
func RecordPipelineError(category string) {
	PipelineErrors.WithLabelValues(category).Inc()
}

// SetLifecycleState marks state as active and every other state as inactive.
func SetLifecycleState(state string) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		LifecycleState.WithLabelValues(s).Set(v)
	}
}
