package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/layercache/layercache/pkg/cache"
	"github.com/layercache/layercache/pkg/config"
	"github.com/layercache/layercache/pkg/observability"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: configs/config.yaml if present)")
	demo := flag.Bool("demo", false, "exercise the engine once, print stats and exit")
	flag.Parse()

	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Logging)

	metricsClient := observability.NewMetricsClient(cfg.Observability.Metrics)
	defer func() {
		if err := metricsClient.Close(); err != nil {
			logger.Warn("failed to close metrics client", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.Observability.Tracing.Enabled {
		cleanup, err := observability.InitTracing(cfg.Observability.Tracing)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer cleanup()
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	engine, err := config.BuildEngine(startupCtx, cfg, logger, metricsClient)
	startupCancel()
	if err != nil {
		log.Fatalf("Failed to build cache engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("engine close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	traced := cache.NewTracedEngine(engine)

	if *demo {
		if err := runDemo(context.Background(), traced); err != nil {
			log.Fatalf("Demo failed: %v", err)
		}
		return
	}

	var metricsServer *http.Server
	if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.ListenAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Observability.Metrics.ListenAddress,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("metrics endpoint listening", map[string]interface{}{
				"address": cfg.Observability.Metrics.ListenAddress,
			})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Metrics endpoint failed: %v", err)
			}
		}()
	}

	logger.Info("layercache running", map[string]interface{}{
		"tiers":       engine.Tiers(),
		"environment": cfg.Environment,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received shutdown signal", nil)

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics endpoint shutdown error", map[string]interface{}{"error": err.Error()})
		}
		shutdownCancel()
	}
	logger.Info("layercache stopped", nil)
}

type demoSession struct {
	UserID   string    `json:"user_id"`
	Plan     string    `json:"plan"`
	IssuedAt time.Time `json:"issued_at"`
}

// runDemo exercises the main operations once against the configured chain
// and prints the resulting stats snapshot.
func runDemo(ctx context.Context, engine *cache.TracedEngine) error {
	session := demoSession{UserID: "1001", Plan: "gold", IssuedAt: time.Now().UTC()}
	if _, err := engine.Set(ctx, "session:1001", session, cache.WithTTL(time.Minute)); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}

	var got demoSession
	res, err := engine.Get(ctx, "session:1001", &got)
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	fmt.Printf("get session:1001 -> found=%v tier=%s plan=%s\n", res.Found, res.Tier, got.Plan)

	items := map[string]any{
		"order:1": map[string]any{"total": 42},
		"order:2": map[string]any{"total": 7},
		"order:3": map[string]any{"total": 99},
	}
	for key, result := range engine.MSet(ctx, items) {
		if result.Err != nil {
			return fmt.Errorf("mset %s failed: %w", key, result.Err)
		}
	}

	removed, err := engine.DeleteByPattern(ctx, "order:*")
	if err != nil {
		return fmt.Errorf("delete by pattern failed: %w", err)
	}
	fmt.Printf("delete order:* -> removed=%d\n", removed)

	keys, err := engine.Keys(ctx, "*")
	if err != nil {
		return fmt.Errorf("keys failed: %w", err)
	}
	fmt.Printf("remaining keys -> %v\n", keys)

	snapshot, err := json.MarshalIndent(engine.Stats(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	fmt.Println(string(snapshot))
	return nil
}
