package cache

import "time"

// Event describes one completed cache operation. Key and pattern values are
// reported un-namespaced, as the caller supplied them.
type Event struct {
	Operation Operation
	Key       string
	Tier      string        // serving or failing tier, empty when not tied to one
	Found     bool          // reads
	OK        bool          // writes
	Strategy  WriteStrategy // writes
	Duration  time.Duration
	Err       error
}

// Observer receives an Event after each operation's result is already
// determined. Implementations run synchronously on the calling goroutine
// and must be fast; a panicking observer is logged and ignored, so it can
// never fail the caller.
type Observer interface {
	OnCacheEvent(event Event)
}

// NoopObserver is the default Observer.
type NoopObserver struct{}

// OnCacheEvent implements Observer.
func (NoopObserver) OnCacheEvent(Event) {}
