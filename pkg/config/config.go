// Package config loads the application configuration from YAML and
// environment variables, and builds the tier chain and engine from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/layercache/layercache/internal/resilience"
	"github.com/layercache/layercache/pkg/cache"
	"github.com/layercache/layercache/pkg/kvstore"
	"github.com/layercache/layercache/pkg/observability"
)

// Tier kinds and remote backends accepted in configuration.
const (
	TierKindMemory = "memory"
	TierKindRemote = "remote"

	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// TierConfig describes one tier in the chain, fastest first. Memory tiers
// use the capacity fields; remote tiers use Backend, OperationTimeout and
// Breaker.
type TierConfig struct {
	Kind string `mapstructure:"kind"`
	Name string `mapstructure:"name"`

	MaxEntries      int           `mapstructure:"max_entries"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	Backend          string                          `mapstructure:"backend"`
	OperationTimeout time.Duration                   `mapstructure:"operation_timeout"`
	Breaker          resilience.CircuitBreakerConfig `mapstructure:"breaker"`
}

// Config holds the complete application configuration.
type Config struct {
	Environment   string                 `mapstructure:"environment"`
	Engine        cache.Config           `mapstructure:"engine"`
	Tiers         []TierConfig           `mapstructure:"tiers"`
	Redis         kvstore.RedisConfig    `mapstructure:"redis"`
	Postgres      kvstore.PostgresConfig `mapstructure:"postgres"`
	Observability observability.Config   `mapstructure:"observability"`
}

// Load reads configuration from the given file plus LAYERCACHE_-prefixed
// environment variables. With an empty path it searches configs/ and the
// working directory for config.yaml; a missing file is fine there, but an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LAYERCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	processEnvExpansion(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the parts engine construction cannot: tier kinds and
// remote backends.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return &cache.ConfigurationError{Field: "tiers", Reason: "at least one tier is required"}
	}
	for i, tc := range c.Tiers {
		switch tc.Kind {
		case TierKindMemory:
		case TierKindRemote:
			switch tc.Backend {
			case BackendRedis, BackendPostgres:
			default:
				return &cache.ConfigurationError{
					Field:  fmt.Sprintf("tiers[%d].backend", i),
					Reason: "unknown remote backend " + tc.Backend,
				}
			}
		default:
			return &cache.ConfigurationError{
				Field:  fmt.Sprintf("tiers[%d].kind", i),
				Reason: "unknown tier kind " + tc.Kind,
			}
		}
	}
	return nil
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

// IsDevelopment reports whether the environment is development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "dev" || c.Environment == "development"
}

// BuildTiers constructs the configured tier chain. On failure every tier
// built so far is closed before returning.
func BuildTiers(ctx context.Context, cfg *Config, logger observability.Logger, metrics observability.MetricsClient) ([]cache.Tier, error) {
	tiers := make([]cache.Tier, 0, len(cfg.Tiers))
	fail := func(err error) ([]cache.Tier, error) {
		for _, t := range tiers {
			_ = t.Close()
		}
		return nil, err
	}

	for i, tc := range cfg.Tiers {
		switch tc.Kind {
		case TierKindMemory:
			tier, err := cache.NewMemoryTier(cache.MemoryTierConfig{
				Name:            tc.Name,
				MaxEntries:      tc.MaxEntries,
				MaxBytes:        tc.MaxBytes,
				DefaultTTL:      tc.DefaultTTL,
				CleanupInterval: tc.CleanupInterval,
			}, logger)
			if err != nil {
				return fail(err)
			}
			tiers = append(tiers, tier)

		case TierKindRemote:
			client, err := buildClient(ctx, cfg, tc.Backend)
			if err != nil {
				return fail(err)
			}
			tier, err := cache.NewRemoteTier(cache.RemoteTierConfig{
				Name:             tc.Name,
				OperationTimeout: tc.OperationTimeout,
				Breaker:          tc.Breaker,
			}, client, logger, metrics)
			if err != nil {
				_ = client.Close()
				return fail(err)
			}
			tiers = append(tiers, tier)

		default:
			return fail(&cache.ConfigurationError{
				Field:  fmt.Sprintf("tiers[%d].kind", i),
				Reason: "unknown tier kind " + tc.Kind,
			})
		}
	}
	return tiers, nil
}

// BuildEngine validates the configuration, builds the tier chain and wires
// it into an engine.
func BuildEngine(ctx context.Context, cfg *Config, logger observability.Logger, metrics observability.MetricsClient, opts ...cache.EngineOption) (*cache.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tiers, err := BuildTiers(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	base := []cache.EngineOption{cache.WithLogger(logger), cache.WithMetrics(metrics)}
	engine, err := cache.New(cfg.Engine, tiers, append(base, opts...)...)
	if err != nil {
		for _, t := range tiers {
			_ = t.Close()
		}
		return nil, err
	}
	return engine, nil
}

func buildClient(ctx context.Context, cfg *Config, backend string) (kvstore.Client, error) {
	switch backend {
	case BackendRedis:
		return kvstore.NewRedisClient(cfg.Redis)
	case BackendPostgres:
		client, err := kvstore.NewPostgresClient(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	default:
		return nil, &cache.ConfigurationError{Field: "backend", Reason: "unknown remote backend " + backend}
	}
}

// processEnvExpansion rewrites config values containing ${VAR} or
// ${VAR:-default} references with the environment's values.
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if value == "" {
			continue
		}
		if strings.Contains(value, "${") && strings.Contains(value, "}") {
			if expanded := expandEnvVars(value); expanded != value {
				v.Set(key, expanded)
			}
		}
	}
}

// expandEnvVars expands ${VAR} and ${VAR:-default} references in a string.
func expandEnvVars(value string) string {
	result := value
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varRef := result[start+2 : end]
		var envVar, defaultVal string
		if strings.Contains(varRef, ":-") {
			parts := strings.SplitN(varRef, ":-", 2)
			envVar = parts[0]
			defaultVal = parts[1]
		} else {
			envVar = varRef
		}

		envVal := os.Getenv(envVar)
		if envVal == "" && defaultVal != "" {
			envVal = defaultVal
		}
		result = result[:start] + envVal + result[end+1:]
	}
	return result
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	// Engine defaults
	v.SetDefault("engine.key_prefix", "cache")
	v.SetDefault("engine.default_ttl", 5*time.Minute)
	v.SetDefault("engine.default_strategy", string(cache.WriteThrough))
	v.SetDefault("engine.strict_write_through", false)
	v.SetDefault("engine.async_workers", 4)
	v.SetDefault("engine.async_queue_size", 1024)
	v.SetDefault("engine.write_back_max_retries", 0)

	// A single bounded memory tier keeps the engine usable with no config
	// file at all.
	v.SetDefault("tiers", []map[string]interface{}{
		{"kind": TierKindMemory, "name": "memory", "max_entries": 10000},
	})

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.scan_count", 100)

	// Postgres defaults
	v.SetDefault("postgres.table", kvstore.DefaultPostgresTable)
	v.SetDefault("postgres.max_open_conns", 25)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime", 5*time.Minute)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.prefix", "layercache")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.namespace", "layercache")
	v.SetDefault("observability.metrics.subsystem", "")
	v.SetDefault("observability.metrics.listen_address", "")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "layercache")
	v.SetDefault("observability.tracing.environment", "development")
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
}
