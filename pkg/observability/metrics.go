package observability

import "time"

// NewMetricsClient builds a metrics client from configuration. Disabled
// metrics return the no-op client so callers never branch on nil.
func NewMetricsClient(cfg MetricsConfig) MetricsClient {
	if !cfg.Enabled {
		return NewNoOpMetricsClient()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "layercache"
	}
	return NewPrometheusMetricsClient(namespace, cfg.Subsystem, nil)
}

// noOpMetricsClient discards all metrics.
type noOpMetricsClient struct{}

// NewNoOpMetricsClient creates a metrics client that does nothing
func NewNoOpMetricsClient() MetricsClient {
	return &noOpMetricsClient{}
}

func (c *noOpMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

func (c *noOpMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

func (c *noOpMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}

func (c *noOpMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}

func (c *noOpMetricsClient) RecordCacheOperation(operation string, hit bool, duration time.Duration) {
}

func (c *noOpMetricsClient) StartTimer(name string, labels map[string]string) func() {
	return func() {}
}

func (c *noOpMetricsClient) Close() error {
	return nil
}
