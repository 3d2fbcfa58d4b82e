package cache

import (
	"time"

	"github.com/layercache/layercache/pkg/observability"
)

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithLogger injects the logger used by the engine and its async writer.
func WithLogger(logger observability.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics injects the metrics client.
func WithMetrics(metrics observability.MetricsClient) EngineOption {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithObserver injects the operation observer.
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// WithSerializer overrides the default JSON serializer.
func WithSerializer(serializer Serializer) EngineOption {
	return func(e *Engine) {
		if serializer != nil {
			e.serializer = serializer
		}
	}
}

// callOptions carries the optional per-call parameters. Options that do not
// apply to an operation are ignored by it.
type callOptions struct {
	ttl      time.Duration
	strategy WriteStrategy
	strict   *bool
	tiers    []string
	pattern  string
}

// Option adjusts a single engine call.
type Option func(*callOptions)

// WithTTL overrides the engine default TTL for one write.
func WithTTL(ttl time.Duration) Option {
	return func(o *callOptions) {
		o.ttl = ttl
	}
}

// WithStrategy overrides the engine default write strategy for one write.
func WithStrategy(strategy WriteStrategy) Option {
	return func(o *callOptions) {
		o.strategy = strategy
	}
}

// WithStrict overrides strict write-through handling for one write.
func WithStrict(strict bool) Option {
	return func(o *callOptions) {
		o.strict = &strict
	}
}

// WithTiers restricts the call to the named tiers, keeping configured
// order. Unknown names are ignored; an empty result behaves like a chain
// with every tier down.
func WithTiers(names ...string) Option {
	return func(o *callOptions) {
		o.tiers = names
	}
}

// WithPattern restricts Clear to keys matching a glob pattern.
func WithPattern(pattern string) Option {
	return func(o *callOptions) {
		o.pattern = pattern
	}
}

func (e *Engine) applyOptions(opts []Option) callOptions {
	options := callOptions{
		ttl:      e.cfg.DefaultTTL,
		strategy: e.cfg.DefaultStrategy,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.strategy.Valid() {
		options.strategy = e.cfg.DefaultStrategy
	}
	return options
}

func (o callOptions) strictMode(configDefault bool) bool {
	if o.strict != nil {
		return *o.strict
	}
	return configDefault
}
