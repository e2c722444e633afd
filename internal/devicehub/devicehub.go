// Package devicehub is the device connection hub (C4): it upgrades
// device websocket connections, tracks which device id owns which
// session, and turns outbound commands and inbound telemetry/command
// results into wire Packets over internal/wshub.
package devicehub

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/wshub"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CommandResult is the payload a device reports back after executing
// a command.
type CommandResult struct {
	CommandID string `json:"commandId"`
	Status    string `json:"status"`
	Result    string `json:"result"`
}

// Hub tracks live device connections and exposes command
// send/telemetry/result plumbing to the router, liveness monitor and
// broadcast hub.
type Hub struct {
	ws *wshub.Hub

	onConnect       func(deviceID string)
	onDisconnect    func(deviceID string)
	onTelemetry     func(deviceID string, payload string)
	onCommandResult func(deviceID string, result CommandResult)
}

// New creates a device hub and wires its websocket lifecycle handlers.
func New() *Hub {
	h := &Hub{
		ws:              wshub.New(),
		onConnect:       func(string) {},
		onDisconnect:    func(string) {},
		onTelemetry:     func(string, string) {},
		onCommandResult: func(string, CommandResult) {},
	}

	h.ws.HandleConnect(func(s *wshub.Session) {
		deviceID, _ := s.Get("deviceId")
		id, _ := deviceID.(string)
		if id == "" {
			return
		}
		h.onConnect(id)
	})

	h.ws.HandleDisconnect(func(s *wshub.Session) {
		deviceID, _ := s.Get("deviceId")
		id, _ := deviceID.(string)
		if id == "" {
			return
		}
		h.onDisconnect(id)
	})

	h.ws.HandleMessage(func(s *wshub.Session, data []byte) {
		deviceIDv, _ := s.Get("deviceId")
		deviceID, _ := deviceIDv.(string)

		var pkt model.Packet
		if err := json.Unmarshal(data, &pkt); err != nil {
			logging.Warn("device_packet_decode", "fail", err.Error(), map[string]any{"deviceId": deviceID})
			return
		}

		switch pkt.Act {
		case "telemetry":
			payload, _ := json.MarshalToString(pkt.Data)
			h.onTelemetry(deviceID, payload)
		case "commandResult":
			raw, _ := json.Marshal(pkt.Data)
			var res CommandResult
			if err := json.Unmarshal(raw, &res); err == nil {
				h.onCommandResult(deviceID, res)
			}
		default:
			logging.Debug("device_packet_unhandled", "", "", map[string]any{"deviceId": deviceID, "act": pkt.Act})
		}
	})

	h.ws.HandleError(func(s *wshub.Session, err error) {
		deviceIDv, _ := s.Get("deviceId")
		logging.Debug("device_session_error", "", err.Error(), map[string]any{"deviceId": deviceIDv})
	})

	return h
}

// OnConnect sets the callback invoked once a device's session is registered.
func (h *Hub) OnConnect(fn func(deviceID string)) { h.onConnect = fn }

// OnDisconnect sets the callback invoked once a device's session is torn down.
func (h *Hub) OnDisconnect(fn func(deviceID string)) { h.onDisconnect = fn }

// OnTelemetry sets the callback invoked for inbound telemetry samples.
func (h *Hub) OnTelemetry(fn func(deviceID string, payload string)) { h.onTelemetry = fn }

// OnCommandResult sets the callback invoked when a device reports a command outcome.
func (h *Hub) OnCommandResult(fn func(deviceID string, result CommandResult)) {
	h.onCommandResult = fn
}

// WS exposes the underlying transport for the HTTP upgrade handler.
func (h *Hub) WS() *wshub.Hub { return h.ws }

// IsConnected reports whether deviceID currently has a live session.
func (h *Hub) IsConnected(deviceID string) bool {
	_, ok := h.sessionFor(deviceID)
	return ok
}

func (h *Hub) sessionFor(deviceID string) (*wshub.Session, bool) {
	var found *wshub.Session
	h.ws.IterSessions(func(_ string, s *wshub.Session) bool {
		if v, ok := s.Get("deviceId"); ok {
			if id, _ := v.(string); id == deviceID {
				found = s
				return false
			}
		}
		return true
	})
	return found, found != nil
}

// SendCommand pushes a command packet to the device's live session.
// Returns false if the device has no open connection.
func (h *Hub) SendCommand(deviceID, commandID, verb string) bool {
	s, ok := h.sessionFor(deviceID)
	if !ok {
		return false
	}
	payload, _ := json.Marshal(model.Packet{
		Act: "command",
		Data: map[string]any{
			"commandId": commandID,
			"verb":      verb,
		},
	})
	return s.Write(payload) == nil
}
