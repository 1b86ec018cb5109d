// Package provider defines the byte store behind the Remote tier.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly
// the []byte previously passed to Set for a key. Stores that compress or
// re-encode internally must fully reverse it.
//
// Values written by tiercache are framed (see internal/wire); foreign bytes
// under the same keys are treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (<= 0 => no expiry). May ignore
	// cost if unsupported. Returns ok=false when the store refused the write
	// under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Toucher is implemented by providers that can reset a key's TTL without
// rewriting the value. Used for sliding expiration on the Remote tier.
type Toucher interface {
	Touch(ctx context.Context, key string, ttl time.Duration) error
}
