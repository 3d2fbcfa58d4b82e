package cache

import (
	"context"
	"encoding/json"
	"time"
)

// TierKind distinguishes in-process tiers from network-backed ones.
type TierKind string

// Tier kinds
const (
	KindMemory TierKind = "memory"
	KindRemote TierKind = "remote"
)

// Tier is one level in the cache chain. Values are opaque byte payloads;
// serialization happens in the engine. Implementations must be safe for
// concurrent use.
type Tier interface {
	Name() string
	Kind() TierKind

	// Get returns the stored payload. A miss is (nil, false, nil); errors
	// are reserved for real failures.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores the payload. ttl <= 0 falls back to the tier default; a
	// zero default means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the key and reports whether it was present.
	Delete(ctx context.Context, key string) (found bool, err error)

	// Keys lists keys matching a glob pattern (* and ? wildcards).
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Flush removes every entry in the tier.
	Flush(ctx context.Context) error

	// Size reports the number of live entries.
	Size(ctx context.Context) (int, error)

	Close() error
}

// GetResult reports whether a read was served and by which tier.
type GetResult struct {
	Found bool
	Tier  string
}

// Serializer converts domain values to and from the byte payloads stored in
// tiers. The engine never inspects domain types beyond this hook.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer is the default Serializer.
type JSONSerializer struct{}

// Marshal implements Serializer.Marshal
func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Serializer.Unmarshal
func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
