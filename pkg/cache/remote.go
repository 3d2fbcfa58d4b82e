package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/layercache/layercache/internal/resilience"
	"github.com/layercache/layercache/pkg/kvstore"
	"github.com/layercache/layercache/pkg/observability"
)

const defaultRemoteTimeout = 1 * time.Second

// RemoteTierConfig configures a tier backed by an external key-value store.
type RemoteTierConfig struct {
	Name string `mapstructure:"name" json:"name"`

	// OperationTimeout bounds every call to the backing store so one slow
	// backend cannot stall a tiered lookup.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout"`

	// Breaker, when enabled, sheds load to an unhealthy backend. Rejected
	// calls surface as transient tier errors.
	Breaker resilience.CircuitBreakerConfig `mapstructure:"breaker" json:"breaker"`
}

// RemoteTier adapts a kvstore.Client to the Tier contract. Each tier call
// maps to exactly one client call under a per-call timeout. Failures are
// classified: infrastructure trouble becomes a TierUnavailableError the
// engine may absorb, anything else propagates as-is.
type RemoteTier struct {
	name    string
	client  kvstore.Client
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	logger  observability.Logger
}

// NewRemoteTier builds a remote tier over client. Nil logger and metrics
// fall back to no-ops.
func NewRemoteTier(cfg RemoteTierConfig, client kvstore.Client, logger observability.Logger, metrics observability.MetricsClient) (*RemoteTier, error) {
	if client == nil {
		return nil, &ConfigurationError{Field: "client", Reason: "remote tier requires a kvstore client"}
	}
	if cfg.Name == "" {
		cfg.Name = "remote"
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultRemoteTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	t := &RemoteTier{
		name:    cfg.Name,
		client:  client,
		timeout: cfg.OperationTimeout,
		logger:  logger,
	}
	if cfg.Breaker.Enabled {
		t.breaker = resilience.NewCircuitBreaker(cfg.Name, cfg.Breaker, logger, metrics)
	}
	return t, nil
}

// Name implements Tier.Name
func (t *RemoteTier) Name() string {
	return t.name
}

// Kind implements Tier.Kind
func (t *RemoteTier) Kind() TierKind {
	return KindRemote
}

// Get implements Tier.Get. A missing key is a miss, not an error, and does
// not count against the breaker.
func (t *RemoteTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var (
		value []byte
		found bool
	)
	err := t.execute(func() error {
		var err error
		value, found, err = t.client.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, t.classify("get", key, err)
	}
	return value, found, nil
}

// Set implements Tier.Set
func (t *RemoteTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.execute(func() error {
		return t.client.Set(ctx, key, value, ttl)
	})
	if err != nil {
		return t.classify("set", key, err)
	}
	return nil
}

// Delete implements Tier.Delete
func (t *RemoteTier) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var removed int
	err := t.execute(func() error {
		var err error
		removed, err = t.client.Delete(ctx, key)
		return err
	})
	if err != nil {
		return false, t.classify("delete", key, err)
	}
	return removed > 0, nil
}

// Keys implements Tier.Keys using the store's native pattern scan.
func (t *RemoteTier) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var keys []string
	err := t.execute(func() error {
		var err error
		keys, err = t.client.Keys(ctx, pattern)
		return err
	})
	if err != nil {
		return nil, t.classify("keys", pattern, err)
	}
	return keys, nil
}

// Flush implements Tier.Flush by scanning and deleting every key.
func (t *RemoteTier) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.execute(func() error {
		keys, err := t.client.Keys(ctx, "*")
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		_, err = t.client.Delete(ctx, keys...)
		return err
	})
	if err != nil {
		return t.classify("flush", "*", err)
	}
	return nil
}

// Size implements Tier.Size
func (t *RemoteTier) Size(ctx context.Context) (int, error) {
	keys, err := t.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Close implements Tier.Close, releasing the underlying client.
func (t *RemoteTier) Close() error {
	return t.client.Close()
}

func (t *RemoteTier) execute(fn func() error) error {
	if t.breaker == nil {
		return fn()
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// classify separates infrastructure failures, which the engine treats as
// tier misses, from data failures, which propagate to the caller.
func (t *RemoteTier) classify(op, key string, err error) error {
	if isInfrastructureError(err) {
		return &TierUnavailableError{
			Tier: t.name,
			Err:  fmt.Errorf("%s %q: %w", op, key, err),
		}
	}
	return fmt.Errorf("failed to %s %q on tier %s: %w", op, key, t.name, err)
}

func isInfrastructureError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	return errors.Is(err, io.EOF)
}
