// Package chaos holds the process-wide fault-injection knobs (§4.8):
// an injected dispatch latency range and a simulated-failure drop
// rate, both loaded once from config and never mutated afterward.
package chaos

import (
	"context"
	"math/rand"
	"time"
)

// Knobs is immutable once constructed.
type Knobs struct {
	latencyMinMs int
	latencyMaxMs int
	dropRate     float64
}

// New builds Knobs from the resolved config values.
func New(latencyMinMs, latencyMaxMs int, dropRate float64) Knobs {
	return Knobs{latencyMinMs: latencyMinMs, latencyMaxMs: latencyMaxMs, dropRate: dropRate}
}

// Inject sleeps for a random duration in [latencyMinMs, latencyMaxMs)
// (a no-op range if both are zero) and reports whether this call
// should be treated as a simulated failure per dropRate.
func (k Knobs) Inject(ctx context.Context) (shouldFail bool) {
	if k.latencyMaxMs > k.latencyMinMs {
		span := k.latencyMaxMs - k.latencyMinMs
		d := time.Duration(k.latencyMinMs+rand.Intn(span)) * time.Millisecond
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	} else if k.latencyMinMs > 0 {
		select {
		case <-time.After(time.Duration(k.latencyMinMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}
	return k.dropRate > 0 && rand.Float64() < k.dropRate
}
