package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranbacvar/Cyviz/internal/breaker"
	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/chaos"
	"github.com/goranbacvar/Cyviz/internal/devicehub"
	"github.com/goranbacvar/Cyviz/internal/retry"
)

// newTestRouterQueueOnly builds a Router against a nil store, so only
// its in-memory parts (the bounded dispatch queue and the breaker
// registry) are exercised here; Enqueue itself is covered by the
// sqlmock-backed integration suite, and command persistence by
// internal/store's own tests.
func newTestRouterQueueOnly(capacity int) *Router {
	return &Router{
		devices:   devicehub.New(),
		breakers:  breaker.New(5, 10*time.Second),
		broadcast: broadcast.New(),
		chaos:     chaos.New(0, 0, 0),
		retryCfg:  retry.Config{Delays: []time.Duration{time.Millisecond}, JitterMax: 0},
		respWait:  10 * time.Second,
		queue:     make(chan string, capacity),
		done:      make(chan struct{}),
	}
}

func TestDispatchQueueFullDoesNotBlock(t *testing.T) {
	r := newTestRouterQueueOnly(1)
	r.queue <- "occupying-slot"

	select {
	case r.queue <- "overflow":
		t.Fatal("expected the bounded queue to reject a second entry")
	default:
	}

	assert.Equal(t, 1, len(r.queue))
	require.True(t, cap(r.queue) == 1)
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	r := newTestRouterQueueOnly(1)
	for i := 0; i < 4; i++ {
		r.breakers.Execute("dev-x", func() (any, error) { return nil, assert.AnError })
	}
	assert.Equal(t, "closed", r.breakers.State("dev-x").String())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	r := newTestRouterQueueOnly(1)
	for i := 0; i < 5; i++ {
		r.breakers.Execute("dev-y", func() (any, error) { return nil, assert.AnError })
	}
	assert.Equal(t, "open", r.breakers.State("dev-y").String())
}
