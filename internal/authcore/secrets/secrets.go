package secrets

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the key does not exist or has already expired.
	ErrNotFound = errors.New("secrets: not found")

	// ErrUnavailable wraps backend outages so callers can tell "absent"
	// apart from "could not ask". Lookups must never report a dead backend
	// as a missing key.
	ErrUnavailable = errors.New("secrets: backend unavailable")
)

// Store is the volatile side of the engine: OTP secrets, reset tokens,
// rate-limit counters and verification flags all live here under TTLs.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value at key with the given TTL, replacing any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys atomically. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Increment adds one to the integer at key, creating it at 1 if absent,
	// and returns the new count.
	Increment(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
