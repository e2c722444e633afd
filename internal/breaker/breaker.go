// Package breaker maintains one circuit breaker per device (C2),
// mapping I-4's closed/open/half-open state machine onto
// sony/gobreaker: ReadyToTrip fires after F consecutive dispatch
// failures, and the breaker stays open for T_open before probing.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/goranbacvar/Cyviz/internal/cmap"
)

// Registry lazily creates and caches one breaker per device id.
type Registry struct {
	breakers *cmap.Map[*gobreaker.CircuitBreaker[any]]
	failures uint32
	timeout  time.Duration
}

// New creates a registry whose breakers trip after failures
// consecutive failures and stay open for timeout.
func New(failures uint32, timeout time.Duration) *Registry {
	return &Registry{
		breakers: cmap.New[*gobreaker.CircuitBreaker[any]](),
		failures: failures,
		timeout:  timeout,
	}
}

func (r *Registry) getOrCreate(deviceID string) *gobreaker.CircuitBreaker[any] {
	if cb, ok := r.breakers.Get(deviceID); ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        deviceID,
		MaxRequests: 1,
		Timeout:     r.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.failures
		},
	})
	// SetIfAbsent avoids a torn breaker if two dispatches race to
	// create the registry entry for the same new device.
	if !r.breakers.SetIfAbsent(deviceID, cb) {
		cb, _ = r.breakers.Get(deviceID)
	}
	return cb
}

// Execute runs fn gated by the device's breaker, returning
// gobreaker.ErrOpenState (via the wrapped error) when the breaker is
// open.
func (r *Registry) Execute(deviceID string, fn func() (any, error)) (any, error) {
	return r.getOrCreate(deviceID).Execute(fn)
}

// State reports the current breaker state for a device, creating one
// in the closed state if none exists yet.
func (r *Registry) State(deviceID string) gobreaker.State {
	return r.getOrCreate(deviceID).State()
}
