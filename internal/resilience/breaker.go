// Package resilience wraps sony/gobreaker behind a small, injectable
// circuit breaker used by remote cache tiers to fail fast while a backend
// is unhealthy.
package resilience

import (
	"time"

	"github.com/sony/gobreaker"

	"github.com/layercache/layercache/pkg/observability"
)

// CircuitBreakerConfig holds configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled" json:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests" json:"max_requests"`
	Interval     time.Duration `mapstructure:"interval" json:"interval"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio" json:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests" json:"min_requests"`
}

// DefaultCircuitBreakerConfig returns the settings used when a remote tier
// enables breaking without tuning it.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// CircuitBreaker guards calls against a failing dependency. While open it
// rejects immediately with gobreaker.ErrOpenState.
type CircuitBreaker struct {
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker builds a named breaker. Zero config fields fall back to
// DefaultCircuitBreakerConfig values; nil logger and metrics fall back to
// no-ops.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}

	defaults := DefaultCircuitBreakerConfig()
	if config.MaxRequests == 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.Interval == 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.FailureRatio == 0 {
		config.FailureRatio = defaults.FailureRatio
	}
	if config.MinRequests == 0 {
		config.MinRequests = defaults.MinRequests
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= config.MinRequests && failureRatio >= config.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.IncrementCounterWithLabels("circuit_breaker_state_changes_total", 1, map[string]string{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
			metrics.RecordGauge("circuit_breaker_state", stateValue(to), map[string]string{
				"name": name,
			})
		},
	}

	return &CircuitBreaker{
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs fn under the breaker.
func (b *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// IsOpen reports whether calls are currently rejected outright.
func (b *CircuitBreaker) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
