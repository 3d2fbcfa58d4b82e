// Package kvstore defines the key-value client contract remote cache tiers
// are built on, plus Redis and Postgres implementations of it.
//
// A Client is a thin, connection-owning adapter: it reports misses as
// (nil, false, nil) rather than errors, and leaves retry, timeout and
// breaker policy to its caller.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a key does not exist where an operation requires
// one, such as TTL lookups.
var ErrNotFound = errors.New("kvstore: key not found")

// Client is the storage contract a remote cache tier adapts. Implementations
// must be safe for concurrent use.
type Client interface {
	// Get returns the stored payload. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the payload. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL reports the remaining lifetime of a key. A key without expiry
	// reports 0; a missing key reports ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys lists keys matching a glob pattern ("*" and "?" wildcards).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
