// Package wshub is the in-process websocket session manager behind
// both the device connection hub (C4) and the operator broadcast hub
// (C5). It owns connection upgrade, session bookkeeping, ping/pong
// keepalive, and broadcast/targeted/filtered delivery; callers attach
// behavior through the Handle* hooks.
package wshub

import (
	"crypto/rand"
	"fmt"
	"net/http"

	ws "github.com/gorilla/websocket"
)

// Hub upgrades incoming HTTP requests to websocket connections and
// dispatches their lifecycle events to registered handlers. Each
// instance is independent: the device hub and the operator broadcast
// hub each run their own Hub.
type Hub struct {
	Config   *Config
	Upgrader *ws.Upgrader

	hub *hub

	connectHandler          func(*Session)
	disconnectHandler       func(*Session)
	pongHandler             func(*Session)
	closeHandler            func(*Session, int, string) error
	errorHandler            func(*Session, error)
	messageHandler          func(*Session, []byte)
	messageHandlerBinary    func(*Session, []byte)
	messageSentHandler      func(*Session, []byte)
	messageSentHandlerBinary func(*Session, []byte)
}

// New creates a Hub with sane defaults and starts its dispatch loop.
func New() *Hub {
	h := newHub()
	go h.run()

	m := &Hub{
		Config:                   newConfig(),
		Upgrader:                 &ws.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		hub:                      h,
		connectHandler:           func(*Session) {},
		disconnectHandler:        func(*Session) {},
		pongHandler:              func(*Session) {},
		errorHandler:             func(*Session, error) {},
		messageHandler:           func(*Session, []byte) {},
		messageHandlerBinary:     func(*Session, []byte) {},
		messageSentHandler:       func(*Session, []byte) {},
		messageSentHandlerBinary: func(*Session, []byte) {},
	}
	m.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	return m
}

// HandleConnect sets the handler invoked when a session is accepted,
// after it is handed to the hub for registration and before its
// read/write pumps start.
func (h *Hub) HandleConnect(fn func(*Session)) { h.connectHandler = fn }

// HandleDisconnect sets the handler invoked once a session is torn down.
func (h *Hub) HandleDisconnect(fn func(*Session)) { h.disconnectHandler = fn }

// HandlePong sets the handler invoked on every pong frame.
func (h *Hub) HandlePong(fn func(*Session)) { h.pongHandler = fn }

// HandleMessage sets the handler for inbound text frames.
func (h *Hub) HandleMessage(fn func(*Session, []byte)) { h.messageHandler = fn }

// HandleMessageBinary sets the handler for inbound binary frames.
func (h *Hub) HandleMessageBinary(fn func(*Session, []byte)) { h.messageHandlerBinary = fn }

// HandleSentMessage sets the handler invoked after a text frame is written.
func (h *Hub) HandleSentMessage(fn func(*Session, []byte)) { h.messageSentHandler = fn }

// HandleSentMessageBinary sets the handler invoked after a binary frame is written.
func (h *Hub) HandleSentMessageBinary(fn func(*Session, []byte)) { h.messageSentHandlerBinary = fn }

// HandleError sets the handler invoked on read/write failures.
func (h *Hub) HandleError(fn func(*Session, error)) { h.errorHandler = fn }

// HandleClose sets the handler invoked on a received close frame.
func (h *Hub) HandleClose(fn func(*Session, int, string) error) {
	h.closeHandler = fn
}

// HandleRequest upgrades r to a websocket connection with no extra keys.
func (h *Hub) HandleRequest(w http.ResponseWriter, r *http.Request) error {
	return h.HandleRequestWithKeys(w, r, nil)
}

// HandleRequestWithKeys upgrades r to a websocket connection, seeding
// the resulting Session's key/value store from keys, then starts its
// read and write pumps.
func (h *Hub) HandleRequestWithKeys(w http.ResponseWriter, r *http.Request, keys map[string]interface{}) error {
	if h.hub.closed() {
		return ErrClosed
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	session := &Session{
		Request: r,
		Keys:    keys,
		UUID:    generateUUID(),
		conn:    conn,
		output:  make(chan *envelope, h.Config.MessageBufferSize),
		hub:     h,
		open:    true,
	}

	h.hub.register <- session
	h.connectHandler(session)

	go session.writePump()
	session.readPump()

	h.hub.unregister <- session
	session.close()
	h.disconnectHandler(session)

	return nil
}

// Broadcast sends msg to every connected session.
func (h *Hub) Broadcast(msg []byte) error {
	return h.BroadcastFilter(msg, nil)
}

// BroadcastFilter sends msg to every session for which fn returns true.
func (h *Hub) BroadcastFilter(msg []byte, fn func(*Session) bool) error {
	if h.hub.closed() {
		return ErrClosed
	}
	h.hub.queue <- &envelope{t: ws.TextMessage, msg: msg, filter: fn}
	return nil
}

// BroadcastMultiple sends msg to the sessions listed in to, by UUID.
func (h *Hub) BroadcastMultiple(msg []byte, to []string) error {
	if h.hub.closed() {
		return ErrClosed
	}
	h.hub.queue <- &envelope{t: ws.TextMessage, msg: msg, list: to}
	return nil
}

// BroadcastBinary sends a binary frame to every connected session.
func (h *Hub) BroadcastBinary(msg []byte) error {
	if h.hub.closed() {
		return ErrClosed
	}
	h.hub.queue <- &envelope{t: ws.BinaryMessage, msg: msg}
	return nil
}

// GetSessionByUUID returns the connected session with the given UUID.
func (h *Hub) GetSessionByUUID(uuid string) (*Session, bool) {
	return h.hub.sessions.Get(uuid)
}

// IterSessions calls fn for every connected session until fn returns false.
func (h *Hub) IterSessions(fn func(uuid string, s *Session) bool) {
	h.hub.sessions.IterCb(fn)
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int { return h.hub.len() }

// Sessions returns the UUIDs of every connected session.
func (h *Hub) Sessions() []string { return h.hub.list() }

// Close stops the hub, closing every connected session.
func (h *Hub) Close() error {
	return h.CloseWithMsg([]byte{})
}

// CloseWithMsg stops the hub, closing every session with the given
// close payload.
func (h *Hub) CloseWithMsg(msg []byte) error {
	if h.hub.closed() {
		return ErrClosed
	}
	h.hub.exit <- &envelope{t: ws.CloseMessage, msg: msg}
	return nil
}

// IsClosed reports whether the hub has been shut down.
func (h *Hub) IsClosed() bool { return h.hub.closed() }

// FormatCloseMessage builds a close-frame payload per RFC 6455.
func FormatCloseMessage(closeCode int, text string) []byte {
	return ws.FormatCloseMessage(closeCode, text)
}

// ErrClosed is returned by Hub operations performed after Close.
var ErrClosed = fmt.Errorf("wshub: hub is closed")

func generateUUID() string {
	buf := make([]byte, 16)
	rand.Reader.Read(buf)
	return fmt.Sprintf(`%x-%x-%x-%x-%x`, buf[0:4], buf[4:6], buf[6:8], buf[8:10], buf[10:16])
}
