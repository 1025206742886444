// Package main is the entry point for the asahi gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"asahi/internal/analytics"
	"asahi/internal/batching"
	"asahi/internal/cache/embedding"
	"asahi/internal/cache/exact"
	"asahi/internal/cache/semantic"
	"asahi/internal/cache/vector"
	"asahi/internal/config"
	"asahi/internal/crypto"
	"asahi/internal/domain"
	"asahi/internal/orchestrator"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/routing"
	"asahi/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(buildLogger(cfg.Observability))

	slog.Info("Starting asahi",
		"version", "0.1.0",
		"http_port", cfg.API.HTTPPort,
		"metrics_port", cfg.Observability.MetricsPort,
	)

	reg, err := registry.New(cfg.Profiles())
	if err != nil {
		slog.Error("Failed to build model registry", "error", err)
		os.Exit(1)
	}
	if reg.Len() == 0 {
		slog.Error("No models configured; add [models.NAME] sections to the config")
		os.Exit(1)
	}
	slog.Info("Model registry loaded", "models", reg.Len())

	tel := telemetry.New(telemetry.NewMetrics(), telemetry.NewAggregator(
		cfg.Tracking.MaxEvents,
		time.Duration(cfg.Tracking.RetentionHours)*time.Hour,
	))

	exactStore, err := buildExactCache(cfg)
	if err != nil {
		slog.Error("Failed to initialize exact cache", "error", err)
		os.Exit(1)
	}

	semanticCache, err := buildSemanticCache(cfg)
	if err != nil {
		slog.Error("Failed to initialize semantic cache", "error", err)
		os.Exit(1)
	}

	client := buildProviderClient(cfg)

	var (
		engine *batching.Engine
		sched  *batching.Scheduler
	)
	if cfg.Batching.Enabled {
		engine = batching.NewEngine(batching.EngineConfig{
			LatencyThresholdMs: cfg.Batching.LatencyThresholdMs,
			MaxBatchSize:       cfg.Batching.MaxBatchSize,
			MaxWaitMs:          cfg.Batching.MaxWaitMs,
			EligibleTasks:      cfg.Batching.EligibleTasks,
		})
		sched = batching.NewScheduler(batching.SchedulerConfig{
			PollInterval: time.Duration(cfg.Batching.PollIntervalMs) * time.Millisecond,
			MaxBatchSize: cfg.Batching.MaxBatchSize,
			MinBatchSize: cfg.Batching.MinBatchSize,
			MaxWaitMs:    cfg.Batching.MaxWaitMs,
		}, batching.NewQueue(), provider.NewClientExecutor(client))
		sched.OnBatch = func(group string, size int) { tel.RecordBatch(size) }
		if err := sched.Start(); err != nil {
			slog.Error("Failed to start batch scheduler", "error", err)
			os.Exit(1)
		}
		slog.Info("Batch scheduler started",
			"max_batch_size", cfg.Batching.MaxBatchSize,
			"max_wait_ms", cfg.Batching.MaxWaitMs,
		)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Registry:           reg,
		Interpreter:        routing.NewInterpreter(cfg.Routing.DefaultQualityPreference, cfg.Routing.DefaultLatencyPreference),
		Router:             routing.NewRouter(reg, cfg.Routing.CostEpsilon),
		Client:             client,
		Telemetry:          tel,
		ExactCache:         exactStore,
		SemanticCache:      semanticCache,
		BatchEngine:        engine,
		Scheduler:          sched,
		TenantScoped:       cfg.Cache.TenantScoped,
		DefaultSensitivity: domain.CostSensitivity(cfg.Optimization.DefaultSensitivity),
	})
	if err != nil {
		slog.Error("Failed to assemble orchestrator", "error", err)
		os.Exit(1)
	}

	engineCfg := analytics.Config{
		BaselineInputRate:        cfg.Tracking.BaselineInputRate,
		BaselineOutputRate:       cfg.Tracking.BaselineOutputRate,
		CostSpikeMultiplier:      cfg.Tracking.CostSpikeMultiplier,
		LatencySpikeMultiplier:   cfg.Tracking.LatencySpikeMultiplier,
		ErrorRateMultiplier:      cfg.Tracking.ErrorRateMultiplier,
		CacheDegradationFraction: cfg.Tracking.CacheDegradationFraction,
		QualityDropFraction:      cfg.Tracking.QualityDropFraction,
		EMASpanDays:              cfg.Tracking.EMASpanDays,
		ZScore:                   cfg.Tracking.ForecastConfidenceZScore,
	}
	analyticsEngine := analytics.New(tel.Aggregator, engineCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go monitorLoop(ctx, analyticsEngine, tel.Aggregator)

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.API.BindAddress, cfg.Observability.MetricsPort),
			Handler: mux,
		}
		go func() {
			slog.Info("Metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server error", "error", err)
				cancel()
			}
		}()
	}

	apiServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.BindAddress, cfg.API.HTTPPort),
		Handler:      newAPIHandler(orch, analyticsEngine, cfg.API.MaxRequestSize),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}
	go func() {
		slog.Info("API server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Metrics server shutdown", "error", err)
		}
	}
	if sched != nil {
		sched.Stop()
	}
	slog.Info("asahi stopped")
}

func buildLogger(obs config.ObservabilityConfig) *slog.Logger {
	var level slog.Level
	switch obs.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if obs.LogFormat == "pretty" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func buildExactCache(cfg *config.Config) (exact.Store, error) {
	if !cfg.Cache.Enabled {
		return nil, nil
	}
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second

	if cfg.Cache.Backend == "redis" {
		var sealer *crypto.Sealer
		if cfg.Governance.EncryptAtRest {
			var err error
			sealer, err = crypto.NewSealerFromPassphrase(cfg.Governance.EncryptionPassphrase)
			if err != nil {
				return nil, err
			}
			slog.Info("Cache at-rest encryption enabled", "key_id", sealer.KeyID())
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		slog.Info("Exact cache using Redis backend", "addr", cfg.Cache.RedisAddr)
		return exact.NewRedisStore(client, ttl, sealer), nil
	}

	slog.Info("Exact cache using memory backend", "ttl_seconds", cfg.Cache.TTLSeconds)
	return exact.NewMemoryStore(ttl), nil
}

func buildSemanticCache(cfg *config.Config) (*semantic.Service, error) {
	var prov embedding.Provider
	switch cfg.Embeddings.Provider {
	case "openai":
		var err error
		prov, err = embedding.NewOpenAIProvider(
			cfg.Embeddings.APIKey,
			cfg.Embeddings.BaseURL,
			cfg.Embeddings.Model,
			cfg.Embeddings.Dimension,
			cfg.Embeddings.Timeout,
		)
		if err != nil {
			return nil, err
		}
		slog.Info("Embeddings using OpenAI provider", "model", cfg.Embeddings.Model)
	default:
		prov = embedding.NewMockProvider(cfg.Embeddings.Dimension)
		slog.Info("Embeddings using deterministic mock provider", "dimension", cfg.Embeddings.Dimension)
	}
	embedClient := embedding.NewClient(prov, cfg.Embeddings.MaxRetries, cfg.Embeddings.BatchSize)

	var store vector.Store
	if cfg.FeatureStore.Driver == "pgvector" {
		pg, err := vector.OpenPg(cfg.FeatureStore.DSN, cfg.FeatureStore.Table, cfg.Embeddings.Dimension)
		if err != nil {
			return nil, err
		}
		store = pg
		slog.Info("Similarity store using pgvector", "table", cfg.FeatureStore.Table)
	} else {
		store = vector.NewMemoryStore()
		slog.Info("Similarity store using memory backend")
	}

	policy := semantic.NewAdmissionPolicy(
		cfg.Optimization.GlobalPenalty,
		cfg.Optimization.TaskWeights,
		cfg.Optimization.Thresholds,
	)
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	return semantic.NewService(embedClient, store, policy, ttl, cfg.FeatureStore.TopK, cfg.Cache.TenantScoped), nil
}

// buildProviderClient picks the live OpenAI-compatible client when an
// API key is present and a deterministic mock otherwise, so the binary
// stays runnable in development.
func buildProviderClient(cfg *config.Config) provider.Client {
	apiKey := os.Getenv("ASAHI_OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Warn("No provider API key configured (ASAHI_OPENAI_API_KEY); using mock provider")
		return provider.NewMockClient(nil)
	}
	client, err := provider.NewOpenAIClient(apiKey, os.Getenv("ASAHI_OPENAI_BASE_URL"), cfg.API.WriteTimeout)
	if err != nil {
		slog.Warn("Falling back to mock provider", "error", err)
		return provider.NewMockClient(nil)
	}
	slog.Info("Provider client ready", "kind", "openai")
	return client
}

// monitorLoop prunes the event log and scans for anomalies on a fixed
// cadence. Detected anomalies are logged by the engine.
func monitorLoop(ctx context.Context, eng *analytics.Engine, agg *telemetry.Aggregator) {
	scan := time.NewTicker(10 * time.Minute)
	prune := time.NewTicker(time.Hour)
	defer scan.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scan.C:
			eng.CheckAll()
		case <-prune.C:
			if removed := agg.Prune(); removed > 0 {
				slog.Debug("Pruned telemetry events", "removed", removed)
			}
		}
	}
}
