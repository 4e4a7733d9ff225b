package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Command is a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response acknowledges a command
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks connect commands to the relay
type Callbacks struct {
	OnGetStatus func() map[string]any
	OnShutdown  func() error
}

// Handler executes control commands received over MQTT
type Handler struct {
	client         mqtt.Client
	topic          string
	responsesTopic string
	callbacks      Callbacks
	commands       chan Command
}

// NewHandler creates a handler listening on topic. Responses go to
// topic + "/responses".
func NewHandler(client mqtt.Client, topic string, callbacks Callbacks) *Handler {
	return &Handler{
		client:         client,
		topic:          topic,
		responsesTopic: topic + "/responses",
		callbacks:      callbacks,
		commands:       make(chan Command, 10),
	}
}

// Run subscribes to the control topic and processes commands until ctx is
// cancelled.
func (h *Handler) Run(ctx context.Context) error {
	slog.Info("telemetry: subscribing to control topic", "topic", h.topic)

	token := h.client.Subscribe(h.topic, 1, h.onMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("telemetry: control subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: control subscription failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if h.client.IsConnected() {
				h.client.Unsubscribe(h.topic).WaitTimeout(time.Second)
			}
			slog.Info("telemetry: control handler stopped")
			return nil
		case cmd := <-h.commands:
			h.sendResponse(h.handle(cmd))
		}
	}
}

func (h *Handler) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		slog.Error("telemetry: failed to parse control command", "error", err)
		h.sendResponse(Response{CommandAck: "unknown", Status: "error", Error: "invalid JSON"})
		return
	}

	slog.Info("telemetry: control command received", "command", cmd.Command)
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("telemetry: command queue full, dropping command", "command", cmd.Command)
	}
}

// ParseCommand decodes a JSON command
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("telemetry: invalid command: %w", err)
	}
	if cmd.Command == "" {
		return cmd, fmt.Errorf("telemetry: invalid command: missing command field")
	}
	return cmd, nil
}

// handle executes cmd and builds the response
func (h *Handler) handle(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		if err := h.callbacks.OnShutdown(); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "shutting_down"

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	if resp.Timestamp == "" {
		resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("telemetry: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.responsesTopic, 1, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("telemetry: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("telemetry: failed to publish response", "error", err)
		return
	}
	slog.Debug("telemetry: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
