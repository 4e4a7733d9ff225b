// Package statusapi serves relay health, statistics and Prometheus metrics
// over HTTP.
//
// Routes:
//
//	GET /healthz  200 while streaming or draining, 503 otherwise
//	GET /stats    JSON statistics snapshot
//	GET /metrics  Prometheus exposition
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	streamrelay "github.com/e7canasta/stream-relay"
)

// StatusProvider is implemented by *streamrelay.Bridge
type StatusProvider interface {
	State() streamrelay.LifecycleState
	Stats() streamrelay.Stats
}

// Health is the /healthz response body
type Health struct {
	Status string `json:"status"` // ok, unavailable
	State  string `json:"state"`
}

// StatsResponse is the /stats response body
type StatsResponse struct {
	InstanceID        string  `json:"instance_id"`
	State             string  `json:"state"`
	Session           string  `json:"session"`
	UptimeSeconds     float64 `json:"uptime_s"`
	FramesCaptured    uint64  `json:"frames_captured"`
	FramesForwarded   uint64  `json:"frames_forwarded"`
	FramesInvalid     uint64  `json:"frames_invalid"`
	HandoffDrops      uint64  `json:"handoff_drops"`
	HandoffDepth      int     `json:"handoff_depth"`
	HandoffPeak       int     `json:"handoff_peak"`
	SamplesInjected   uint64  `json:"samples_injected"`
	InjectionFailures uint64  `json:"injection_failures"`
	BytesInjected     uint64  `json:"bytes_injected"`
}

// NewStatsResponse converts a stats snapshot into its JSON form
func NewStatsResponse(instanceID string, st streamrelay.Stats) StatsResponse {
	return StatsResponse{
		InstanceID:        instanceID,
		State:             st.State.String(),
		Session:           st.Session.String(),
		UptimeSeconds:     st.Uptime.Seconds(),
		FramesCaptured:    st.FramesCaptured,
		FramesForwarded:   st.FramesForwarded,
		FramesInvalid:     st.FramesInvalid,
		HandoffDrops:      st.HandoffDrops,
		HandoffDepth:      st.HandoffDepth,
		HandoffPeak:       st.HandoffPeak,
		SamplesInjected:   st.SamplesInjected,
		InjectionFailures: st.InjectionFailures,
		BytesInjected:     st.BytesInjected,
	}
}

// NewRouter returns the status routes
func NewRouter(instanceID string, provider StatusProvider) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := provider.State()
		h := Health{Status: "ok", State: state.String()}
		code := http.StatusOK
		if state != streamrelay.StateStreaming && state != streamrelay.StateDraining {
			h.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, h)
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, NewStatsResponse(instanceID, provider.Stats()))
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("statusapi: failed to write response", "error", err)
	}
}

// Serve runs the status server on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("statusapi: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("statusapi: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("statusapi: shutdown: %w", err)
	}
	slog.Info("statusapi: stopped")
	return nil
}
