package cache

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid construction-time configuration.
// It is fatal: the engine or tier refuses to construct.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid cache configuration: %s: %s", e.Field, e.Reason)
}

// TierUnavailableError marks a transient tier failure: the backing store is
// down, timed out, or its circuit breaker is open. The engine treats it as a
// miss on read and as a logged failed write on write.
type TierUnavailableError struct {
	Tier string
	Err  error
}

func (e *TierUnavailableError) Error() string {
	return fmt.Sprintf("cache tier %s unavailable: %v", e.Tier, e.Err)
}

func (e *TierUnavailableError) Unwrap() error {
	return e.Err
}

// SerializationError reports a failure in the caller-supplied serializer.
// It is always propagated: swallowing it would hand back corrupt data.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("cache serialization failed for key %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient tier failure the engine
// degrades through rather than surfaces.
func IsTransient(err error) bool {
	var unavailable *TierUnavailableError
	return errors.As(err, &unavailable)
}
