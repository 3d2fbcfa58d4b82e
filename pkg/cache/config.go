package cache

import "time"

// Config holds engine-level settings. Tier capacity and backend settings
// live on the tier configs.
type Config struct {
	// KeyPrefix namespaces every key as "<prefix>:<key>" across all tiers.
	// Empty disables namespacing.
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`

	// DefaultTTL applies to writes and promotions that carry no explicit
	// TTL.
	DefaultTTL time.Duration `mapstructure:"default_ttl" json:"default_ttl"`

	// DefaultStrategy applies to writes that carry no explicit strategy.
	DefaultStrategy WriteStrategy `mapstructure:"default_strategy" json:"default_strategy"`

	// StrictWriteThrough makes write-through abort on the first tier
	// failure instead of continuing best-effort.
	StrictWriteThrough bool `mapstructure:"strict_write_through" json:"strict_write_through"`

	// AsyncWorkers and AsyncQueueSize bound the background writer pool
	// that handles promotions and deferred write-back legs.
	AsyncWorkers   int `mapstructure:"async_workers" json:"async_workers"`
	AsyncQueueSize int `mapstructure:"async_queue_size" json:"async_queue_size"`

	// WriteBackMaxRetries is how many times a failed write-back leg is
	// retried with exponential backoff. 0 disables retries. Promotions
	// never retry.
	WriteBackMaxRetries int `mapstructure:"write_back_max_retries" json:"write_back_max_retries"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:       "cache",
		DefaultTTL:      5 * time.Minute,
		DefaultStrategy: WriteThrough,
		AsyncWorkers:    defaultAsyncWorkers,
		AsyncQueueSize:  defaultAsyncQueueSize,
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.DefaultTTL == 0 {
		c.DefaultTTL = defaults.DefaultTTL
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = defaults.DefaultStrategy
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = defaults.AsyncWorkers
	}
	if c.AsyncQueueSize <= 0 {
		c.AsyncQueueSize = defaults.AsyncQueueSize
	}
}

func (c *Config) validate() error {
	if c.DefaultTTL < 0 {
		return &ConfigurationError{Field: "default_ttl", Reason: "must not be negative"}
	}
	if c.DefaultStrategy != "" && !c.DefaultStrategy.Valid() {
		return &ConfigurationError{Field: "default_strategy", Reason: "unknown write strategy " + string(c.DefaultStrategy)}
	}
	if c.WriteBackMaxRetries < 0 {
		return &ConfigurationError{Field: "write_back_max_retries", Reason: "must not be negative"}
	}
	return nil
}
