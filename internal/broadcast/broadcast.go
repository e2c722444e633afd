// Package broadcast is the operator broadcast hub (C5): a best-effort,
// non-blocking fan-out of device-status-changed, command-completed and
// telemetry-received events to every subscribed operator console.
package broadcast

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/wshub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub fans operator-facing events out over websocket subscriptions.
type Hub struct {
	ws *wshub.Hub
}

// New creates an operator broadcast hub.
func New() *Hub {
	h := &Hub{ws: wshub.New()}
	h.ws.HandleMessage(func(s *wshub.Session, _ []byte) {
		// Operator console connections are subscribe-only; inbound
		// frames are ignored.
	})
	return h
}

// WS exposes the underlying transport for the HTTP upgrade handler.
func (h *Hub) WS() *wshub.Hub { return h.ws }

func (h *Hub) publish(event string, data any) {
	payload, err := json.Marshal(model.Packet{Event: event, Data: data})
	if err != nil {
		logging.Warn("broadcast_encode", "fail", err.Error(), map[string]any{"event": event})
		return
	}
	// Best-effort: Broadcast queues onto each session's bounded output
	// buffer and never blocks the caller on a slow operator console.
	h.ws.Broadcast(payload)
}

// DeviceStatusChanged notifies subscribers that a device's liveness changed.
func (h *Hub) DeviceStatusChanged(deviceID string, status model.DeviceStatus) {
	h.publish("device-status-changed", map[string]any{
		"deviceId": deviceID,
		"status":   status,
	})
}

// CommandCompleted notifies subscribers that a command reached a terminal state.
func (h *Hub) CommandCompleted(cmd *model.Command) {
	h.publish("command-completed", cmd)
}

// TelemetryReceived notifies subscribers that a device pushed a telemetry sample.
func (h *Hub) TelemetryReceived(t *model.Telemetry) {
	h.publish("telemetry-received", t)
}
