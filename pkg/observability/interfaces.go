// Package observability provides the logging, metrics, and tracing plumbing
// shared by the layercache packages. Library code depends on the small
// interfaces here, never on a concrete backend, so callers can inject their
// own implementations or the provided standard/no-op/Prometheus ones.
package observability

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Config holds the configuration for all observability components.
type Config struct {
	Logging LoggingConfig `json:"logging,omitempty" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics,omitempty" mapstructure:"metrics"`
	Tracing TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// LoggingConfig holds the configuration for logging.
type LoggingConfig struct {
	// Level is the minimum log level to emit (debug, info, warn, error).
	Level  string `json:"level,omitempty" mapstructure:"level"`
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`
}

// MetricsConfig holds the configuration for metrics.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Namespace string `json:"namespace,omitempty" mapstructure:"namespace"`
	Subsystem string `json:"subsystem,omitempty" mapstructure:"subsystem"`
	// ListenAddress is where the demo binary exposes /metrics; empty
	// disables the listener.
	ListenAddress string `json:"listen_address,omitempty" mapstructure:"listen_address"`
}

// TracingConfig holds the configuration for tracing.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name,omitempty" mapstructure:"service_name"`
	Environment string `json:"environment,omitempty" mapstructure:"environment"`
	Endpoint    string `json:"endpoint,omitempty" mapstructure:"endpoint"`
}

// LogLevel defines log message severity
type LogLevel string

// Log levels
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
	LogLevelFatal LogLevel = "FATAL"
)

// Logger defines the interface for logging
type Logger interface {
	// Core logging methods with fields
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Fatal(msg string, fields map[string]interface{})

	// Formatted logging methods
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// Context methods
	WithPrefix(prefix string) Logger
	With(fields map[string]interface{}) Logger
}

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)

	// IncrementCounterWithLabels is the standard method for incrementing counters
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)

	// RecordCacheOperation records one cache operation outcome with its duration
	RecordCacheOperation(operation string, hit bool, duration time.Duration)

	// StartTimer starts a timer and returns a function to stop it
	StartTimer(name string, labels map[string]string) func()

	// Lifecycle management
	Close() error
}

// Span represents a trace span
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	AddEvent(name string, attributes map[string]interface{})
	RecordError(err error)
	SetStatus(code int, description string)
	SpanContext() trace.SpanContext
}
