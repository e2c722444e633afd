// Package retry is the bounded dispatch-attempt executor (C3): exactly
// len(delays) attempts, each preceded by its configured base delay
// plus a small random jitter, stopping early on success or context
// cancellation.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config tunes attempt count (len(Delays)), base delays and jitter
// ceiling. One delay precedes each attempt, so the aggregate sleep
// across a full run is the sum of Delays.
type Config struct {
	Delays    []time.Duration
	JitterMax time.Duration
}

// Do calls fn up to len(cfg.Delays) times, sleeping cfg.Delays[attempt]
// plus jitter before each attempt. It returns the last error if every
// attempt fails, or nil on the first success. It returns ctx.Err()
// immediately if ctx is cancelled during a delay.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	var lastErr error
	for attempt, delay := range cfg.Delays {
		if cfg.JitterMax > 0 {
			delay += time.Duration(rand.Int63n(int64(cfg.JitterMax)))
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
