// Package store defines the shared counter and key/value contract used for nonces,
// rate-limit windows and revenue counters.
//
// Two implementations exist: store/memory (single instance, always available) and
// store/redis (shared across instances). Callers treat any error as "store unavailable".
package store

import (
	"context"
	"time"

	"github.com/btcfi/gateway"
)

// ErrUnavailable is returned (wrapped) by implementations when the backend cannot be reached.
var ErrUnavailable = gateway.ErrStoreUnavailable

// Store is the minimal key/value surface the gateway needs from a shared store.
type Store interface {
	// Incr increments key and returns the new value. When the increment creates the key,
	// ttl (if positive) is applied as its expiry.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Get returns the value of key. The bool is false when the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with an optional ttl (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key does not exist and reports whether it was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Expire sets a new ttl on an existing key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
