package wshub

import "time"

// Config tunes the websocket transport shared by the device hub (C4)
// and the operator broadcast hub (C5).
type Config struct {
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxMessageSize    int64
	MessageBufferSize int
}

func newConfig() *Config {
	return &Config{
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        (60 * time.Second * 9) / 10,
		MaxMessageSize:    1 << 20,
		MessageBufferSize: 256,
	}
}
