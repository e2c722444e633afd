// Package apperr collects the small set of sentinel errors the
// control plane distinguishes by identity, plus a Wrap helper that
// otherwise adds stack context without inventing a bespoke error type.
package apperr

import (
	"errors"

	ferrors "github.com/go-faster/errors"
)

var (
	// ErrDuplicateKey is returned by the store when a command with the
	// same (deviceId, idempotencyKey) already exists (I-1).
	ErrDuplicateKey = errors.New("apperr: duplicate idempotency key")
	// ErrNotFound is returned when a device or command lookup misses.
	ErrNotFound = errors.New("apperr: not found")
	// ErrQueueFull names the dispatch-queue-at-capacity condition
	// (§4.6). The router does not return it; it reports that case
	// through EnqueueResult.QueueFull.
	ErrQueueFull = errors.New("apperr: dispatch queue full")
	// ErrConcurrencyMismatch is returned when a device update presents
	// a stale optimistic-concurrency token.
	ErrConcurrencyMismatch = errors.New("apperr: concurrency token mismatch")
	// ErrBreakerOpen names the open-circuit-breaker condition. No
	// package returns it; the router checks breaker state directly.
	ErrBreakerOpen = errors.New("apperr: circuit breaker open")
)

// Wrap adds stack context to err, tagged with msg. Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return ferrors.Wrap(err, msg)
}

// Is reports whether err matches target, unwrapping wrapped errors.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
