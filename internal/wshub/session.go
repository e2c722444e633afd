package wshub

import (
	"errors"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

// Session wraps one websocket connection, whether it's a device
// talking to the Hub or an operator console subscribed to it.
type Session struct {
	Request *http.Request
	Keys    map[string]interface{}
	UUID    string
	conn    *ws.Conn
	output  chan *envelope
	hub     *Hub
	open    bool
	rwmutex sync.RWMutex
}

func (s *Session) writeMessage(message *envelope) {
	if s.closed() {
		s.hub.errorHandler(s, errors.New("tried to write to a closed session"))
		return
	}
	select {
	case s.output <- message:
	default:
		s.hub.errorHandler(s, errors.New("session message buffer is full"))
	}
}

func (s *Session) writeRaw(message *envelope) error {
	if s.closed() {
		return errors.New("tried to write to a closed session")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.hub.Config.WriteWait))
	return s.conn.WriteMessage(message.t, message.msg)
}

func (s *Session) closed() bool {
	s.rwmutex.RLock()
	defer s.rwmutex.RUnlock()
	return !s.open
}

func (s *Session) close() {
	if !s.closed() {
		s.rwmutex.Lock()
		s.open = false
		s.conn.Close()
		close(s.output)
		s.rwmutex.Unlock()
	}
}

func (s *Session) ping() {
	s.writeRaw(&envelope{t: ws.PingMessage, msg: []byte{}})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.Config.PingPeriod)
	defer ticker.Stop()

loop:
	for {
		select {
		case msg, ok := <-s.output:
			if !ok {
				break loop
			}
			if err := s.writeRaw(msg); err != nil {
				s.hub.errorHandler(s, err)
				break loop
			}
			if msg.t == ws.CloseMessage {
				break loop
			}
			if msg.t == ws.TextMessage {
				s.hub.messageSentHandler(s, msg.msg)
			}
			if msg.t == ws.BinaryMessage {
				s.hub.messageSentHandlerBinary(s, msg.msg)
			}
		case <-ticker.C:
			s.ping()
		}
	}
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(s.hub.Config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.Config.PongWait))

	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.Config.PongWait))
		s.hub.pongHandler(s)
		return nil
	})

	if s.hub.closeHandler != nil {
		s.conn.SetCloseHandler(func(code int, text string) error {
			return s.hub.closeHandler(s, code, text)
		})
	}

	for {
		t, message, err := s.conn.ReadMessage()
		if err != nil {
			s.hub.errorHandler(s, err)
			break
		}
		if t == ws.TextMessage {
			s.hub.messageHandler(s, message)
		}
		if t == ws.BinaryMessage {
			s.hub.messageHandlerBinary(s, message)
		}
	}
}

// Write sends a text frame to the session.
func (s *Session) Write(msg []byte) error {
	if s.closed() {
		return errors.New("session is closed")
	}
	s.writeMessage(&envelope{t: ws.TextMessage, msg: msg})
	return nil
}

// WriteBinary sends a binary frame to the session.
func (s *Session) WriteBinary(msg []byte) error {
	if s.closed() {
		return errors.New("session is closed")
	}
	s.writeMessage(&envelope{t: ws.BinaryMessage, msg: msg})
	return nil
}

// Close sends a close frame and tears down the connection.
func (s *Session) Close() error {
	if s.closed() {
		return errors.New("session is already closed")
	}
	s.writeMessage(&envelope{t: ws.CloseMessage, msg: []byte{}})
	return nil
}

// CloseWithMsg closes the session with a specific close payload; use
// FormatCloseMessage to build one.
func (s *Session) CloseWithMsg(msg []byte) error {
	if s.closed() {
		return errors.New("session is already closed")
	}
	s.writeMessage(&envelope{t: ws.CloseMessage, msg: msg})
	return nil
}

// Set stores a key/value pair scoped to this session.
func (s *Session) Set(key string, value interface{}) bool {
	if s.closed() {
		return false
	}
	if s.Keys == nil {
		s.Keys = make(map[string]interface{})
	}
	s.Keys[key] = value
	return true
}

// Get returns the value stored under key, if any.
func (s *Session) Get(key string) (value interface{}, exists bool) {
	if s.Keys != nil {
		value, exists = s.Keys[key]
	}
	return
}

// MustGet returns the value under key or panics.
func (s *Session) MustGet(key string) interface{} {
	if value, exists := s.Get(key); exists {
		return value
	}
	panic("wshub: key \"" + key + "\" does not exist")
}

// IsClosed reports the connection's liveness.
func (s *Session) IsClosed() bool {
	return s.closed()
}

// GetWSConn returns the underlying gorilla websocket connection.
func (s *Session) GetWSConn() *ws.Conn {
	return s.conn
}
