// Package config provides configuration management for the gateway.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"asahi/internal/domain"
)

// Config is the root configuration structure. Every scalar can be
// overridden at process start via ASAHI_SECTION_FIELD environment
// variables.
type Config struct {
	API           APIConfig              `toml:"api"`
	Cache         CacheConfig            `toml:"cache"`
	Routing       RoutingConfig          `toml:"routing"`
	Tracking      TrackingConfig         `toml:"tracking"`
	Observability ObservabilityConfig    `toml:"observability"`
	Embeddings    EmbeddingsConfig       `toml:"embeddings"`
	Batching      BatchingConfig         `toml:"batching"`
	FeatureStore  FeatureStoreConfig     `toml:"feature_store"`
	Optimization  OptimizationConfig     `toml:"optimization"`
	Governance    GovernanceConfig       `toml:"governance"`
	Models        map[string]ModelConfig `toml:"models"`
}

// APIConfig contains the serving surface settings.
type APIConfig struct {
	BindAddress    string        `toml:"bind_address"`
	HTTPPort       int           `toml:"http_port"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout"`
	MaxRequestSize int64         `toml:"max_request_size"`
}

// CacheConfig covers the Tier-1 exact cache.
type CacheConfig struct {
	Enabled       bool   `toml:"enabled"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	TenantScoped  bool   `toml:"tenant_scoped"`
	Backend       string `toml:"backend"` // "memory" or "redis"
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// RoutingConfig covers the constraint interpreter and router.
type RoutingConfig struct {
	DefaultQualityPreference string  `toml:"default_quality_preference"`
	DefaultLatencyPreference string  `toml:"default_latency_preference"`
	CostEpsilon              float64 `toml:"cost_epsilon"` // floor for quality-per-dollar scoring
}

// TrackingConfig covers event retention and the anomaly baselines.
type TrackingConfig struct {
	RetentionHours           int     `toml:"retention_hours"`
	MaxEvents                int     `toml:"max_events"`
	BaselineInputRate        float64 `toml:"baseline_input_rate"`  // USD per 1K input tokens
	BaselineOutputRate       float64 `toml:"baseline_output_rate"` // USD per 1K output tokens
	CostSpikeMultiplier      float64 `toml:"cost_spike_multiplier"`
	LatencySpikeMultiplier   float64 `toml:"latency_spike_multiplier"`
	ErrorRateMultiplier      float64 `toml:"error_rate_multiplier"`
	CacheDegradationFraction float64 `toml:"cache_degradation_fraction"`
	QualityDropFraction      float64 `toml:"quality_drop_fraction"`
	EMASpanDays              int     `toml:"ema_span_days"`
	ForecastConfidenceZScore float64 `toml:"forecast_confidence_z_score"`
}

// ObservabilityConfig covers metrics and logging.
type ObservabilityConfig struct {
	MetricsEnabled bool   `toml:"metrics_enabled"`
	MetricsPort    int    `toml:"metrics_port"`
	LogLevel       string `toml:"log_level"`
	LogFormat      string `toml:"log_format"` // "json" or "pretty"
}

// EmbeddingsConfig covers the embedding provider.
type EmbeddingsConfig struct {
	Provider   string        `toml:"provider"` // "openai", "mock"
	Model      string        `toml:"model"`
	Dimension  int           `toml:"dimension"`
	BatchSize  int           `toml:"batch_size"`
	MaxRetries int           `toml:"max_retries"`
	BaseURL    string        `toml:"base_url"`
	APIKey     string        `toml:"api_key"`
	Timeout    time.Duration `toml:"timeout"`
}

// BatchingConfig covers batch eligibility and the scheduler.
type BatchingConfig struct {
	Enabled            bool     `toml:"enabled"`
	LatencyThresholdMs int      `toml:"latency_threshold_ms"`
	MaxBatchSize       int      `toml:"max_batch_size"`
	MinBatchSize       int      `toml:"min_batch_size"`
	MaxWaitMs          int      `toml:"max_wait_ms"`
	PollIntervalMs     int      `toml:"poll_interval_ms"`
	EligibleTasks      []string `toml:"eligible_tasks"`
}

// FeatureStoreConfig covers the similarity store backing Tier 2.
type FeatureStoreConfig struct {
	Driver string `toml:"driver"` // "memory" or "pgvector"
	DSN    string `toml:"dsn"`
	Table  string `toml:"table"`
	TopK   int    `toml:"top_k"`
}

// OptimizationConfig covers semantic-cache admission economics.
type OptimizationConfig struct {
	GlobalPenalty      float64            `toml:"global_penalty"`
	DefaultSensitivity string             `toml:"default_sensitivity"`
	TaskWeights        map[string]float64 `toml:"task_weights"`
	Thresholds         map[string]float64 `toml:"thresholds"` // "task:sensitivity" -> similarity threshold
}

// GovernanceConfig covers at-rest protection of cached payloads.
type GovernanceConfig struct {
	EncryptAtRest        bool   `toml:"encrypt_at_rest"`
	EncryptionPassphrase string `toml:"encryption_passphrase"`
}

// ModelConfig is one registry entry in the configuration document.
type ModelConfig struct {
	Provider        string  `toml:"provider"`
	InputCostPer1K  float64 `toml:"input_cost_per_1k"`
	OutputCostPer1K float64 `toml:"output_cost_per_1k"`
	AvgLatencyMs    float64 `toml:"avg_latency_ms"`
	QualityScore    float64 `toml:"quality_score"`
	MaxInputTokens  int     `toml:"max_input_tokens"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	Availability    string  `toml:"availability"`
}

// ToProfile converts a configured model into an immutable profile.
func (m ModelConfig) ToProfile(name string) domain.ModelProfile {
	availability := domain.Availability(m.Availability)
	if availability == "" {
		availability = domain.AvailabilityAvailable
	}
	return domain.ModelProfile{
		Name:            name,
		Provider:        m.Provider,
		InputCostPer1K:  m.InputCostPer1K,
		OutputCostPer1K: m.OutputCostPer1K,
		AvgLatencyMs:    m.AvgLatencyMs,
		QualityScore:    m.QualityScore,
		MaxInputTokens:  m.MaxInputTokens,
		MaxOutputTokens: m.MaxOutputTokens,
		Availability:    availability,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BindAddress:    "0.0.0.0",
			HTTPPort:       8080,
			ReadTimeout:    time.Minute,
			WriteTimeout:   2 * time.Minute,
			MaxRequestSize: 1 << 20,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 3600,
			Backend:    "memory",
			RedisAddr:  "localhost:6379",
		},
		Routing: RoutingConfig{
			DefaultQualityPreference: "medium",
			DefaultLatencyPreference: "normal",
			CostEpsilon:              0.0001,
		},
		Tracking: TrackingConfig{
			RetentionHours:           24,
			MaxEvents:                100000,
			BaselineInputRate:        0.03,
			BaselineOutputRate:       0.06,
			CostSpikeMultiplier:      2.0,
			LatencySpikeMultiplier:   2.0,
			ErrorRateMultiplier:      3.0,
			CacheDegradationFraction: 0.5,
			QualityDropFraction:      0.15,
			EMASpanDays:              7,
			ForecastConfidenceZScore: 1.96,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsPort:    9090,
			LogLevel:       "info",
			LogFormat:      "json",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "mock",
			Model:      "text-embedding-3-small",
			Dimension:  256,
			BatchSize:  32,
			MaxRetries: 3,
			Timeout:    10 * time.Second,
		},
		Batching: BatchingConfig{
			Enabled:            true,
			LatencyThresholdMs: 500,
			MaxBatchSize:       8,
			MinBatchSize:       2,
			MaxWaitMs:          200,
			PollIntervalMs:     50,
			EligibleTasks:      []string{"summarization", "faq", "translation"},
		},
		FeatureStore: FeatureStoreConfig{
			Driver: "memory",
			Table:  "semantic_cache",
			TopK:   5,
		},
		Optimization: OptimizationConfig{
			GlobalPenalty:      2.0,
			DefaultSensitivity: "medium",
		},
		Governance: GovernanceConfig{},
		Models:     make(map[string]ModelConfig),
	}
}

// Load reads configuration from a TOML file, merging over defaults
// and applying environment overrides. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, domain.Wrap(domain.ErrConfiguration, "parsing config", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return domain.E(domain.ErrConfiguration, "cache.ttl_seconds must be positive")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return domain.E(domain.ErrConfiguration, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Embeddings.Dimension <= 0 {
		return domain.E(domain.ErrConfiguration, "embeddings.dimension must be positive")
	}
	if c.Batching.MaxBatchSize <= 0 || c.Batching.MinBatchSize <= 0 {
		return domain.E(domain.ErrConfiguration, "batching sizes must be positive")
	}
	if c.Batching.MinBatchSize > c.Batching.MaxBatchSize {
		return domain.E(domain.ErrConfiguration, "batching.min_batch_size exceeds max_batch_size")
	}
	if c.Batching.PollIntervalMs <= 0 {
		return domain.E(domain.ErrConfiguration, "batching.poll_interval_ms must be positive")
	}
	if c.FeatureStore.Driver != "memory" && c.FeatureStore.Driver != "pgvector" {
		return domain.E(domain.ErrConfiguration, fmt.Sprintf("unknown feature store driver %q", c.FeatureStore.Driver))
	}
	if c.FeatureStore.Driver == "pgvector" && c.FeatureStore.DSN == "" {
		return domain.E(domain.ErrConfiguration, "feature_store.dsn required for pgvector driver")
	}
	if c.Tracking.RetentionHours <= 0 {
		return domain.E(domain.ErrConfiguration, "tracking.retention_hours must be positive")
	}
	if c.Governance.EncryptAtRest && c.Governance.EncryptionPassphrase == "" {
		return domain.E(domain.ErrConfiguration, "governance.encryption_passphrase required when encrypt_at_rest is set")
	}
	for name, m := range c.Models {
		if m.QualityScore < 0 || m.QualityScore > 5 {
			return domain.E(domain.ErrConfiguration, fmt.Sprintf("model %s quality_score out of range", name))
		}
	}
	return nil
}

// Profiles returns the configured model catalog as immutable profiles.
func (c *Config) Profiles() []domain.ModelProfile {
	profiles := make([]domain.ModelProfile, 0, len(c.Models))
	for name, m := range c.Models {
		profiles = append(profiles, m.ToProfile(name))
	}
	return profiles
}

// applyEnvOverrides applies ASAHI_SECTION_FIELD environment variables
// on top of file values.
func (c *Config) applyEnvOverrides() {
	envString("ASAHI_API_BIND_ADDRESS", &c.API.BindAddress)
	envInt("ASAHI_API_HTTP_PORT", &c.API.HTTPPort)
	envInt64("ASAHI_API_MAX_REQUEST_SIZE", &c.API.MaxRequestSize)

	envBool("ASAHI_CACHE_ENABLED", &c.Cache.Enabled)
	envInt("ASAHI_CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	envBool("ASAHI_CACHE_TENANT_SCOPED", &c.Cache.TenantScoped)
	envString("ASAHI_CACHE_BACKEND", &c.Cache.Backend)
	envString("ASAHI_CACHE_REDIS_ADDR", &c.Cache.RedisAddr)
	envString("ASAHI_CACHE_REDIS_PASSWORD", &c.Cache.RedisPassword)
	envInt("ASAHI_CACHE_REDIS_DB", &c.Cache.RedisDB)

	envString("ASAHI_ROUTING_DEFAULT_QUALITY_PREFERENCE", &c.Routing.DefaultQualityPreference)
	envString("ASAHI_ROUTING_DEFAULT_LATENCY_PREFERENCE", &c.Routing.DefaultLatencyPreference)
	envFloat("ASAHI_ROUTING_COST_EPSILON", &c.Routing.CostEpsilon)

	envInt("ASAHI_TRACKING_RETENTION_HOURS", &c.Tracking.RetentionHours)
	envInt("ASAHI_TRACKING_MAX_EVENTS", &c.Tracking.MaxEvents)
	envFloat("ASAHI_TRACKING_BASELINE_INPUT_RATE", &c.Tracking.BaselineInputRate)
	envFloat("ASAHI_TRACKING_BASELINE_OUTPUT_RATE", &c.Tracking.BaselineOutputRate)
	envFloat("ASAHI_TRACKING_COST_SPIKE_MULTIPLIER", &c.Tracking.CostSpikeMultiplier)
	envFloat("ASAHI_TRACKING_LATENCY_SPIKE_MULTIPLIER", &c.Tracking.LatencySpikeMultiplier)
	envFloat("ASAHI_TRACKING_ERROR_RATE_MULTIPLIER", &c.Tracking.ErrorRateMultiplier)
	envFloat("ASAHI_TRACKING_CACHE_DEGRADATION_FRACTION", &c.Tracking.CacheDegradationFraction)
	envFloat("ASAHI_TRACKING_QUALITY_DROP_FRACTION", &c.Tracking.QualityDropFraction)
	envInt("ASAHI_TRACKING_EMA_SPAN_DAYS", &c.Tracking.EMASpanDays)

	envBool("ASAHI_OBSERVABILITY_METRICS_ENABLED", &c.Observability.MetricsEnabled)
	envInt("ASAHI_OBSERVABILITY_METRICS_PORT", &c.Observability.MetricsPort)
	envString("ASAHI_OBSERVABILITY_LOG_LEVEL", &c.Observability.LogLevel)
	envString("ASAHI_OBSERVABILITY_LOG_FORMAT", &c.Observability.LogFormat)

	envString("ASAHI_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	envString("ASAHI_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	envInt("ASAHI_EMBEDDINGS_DIMENSION", &c.Embeddings.Dimension)
	envInt("ASAHI_EMBEDDINGS_BATCH_SIZE", &c.Embeddings.BatchSize)
	envInt("ASAHI_EMBEDDINGS_MAX_RETRIES", &c.Embeddings.MaxRetries)
	envString("ASAHI_EMBEDDINGS_BASE_URL", &c.Embeddings.BaseURL)
	envString("ASAHI_EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)

	envBool("ASAHI_BATCHING_ENABLED", &c.Batching.Enabled)
	envInt("ASAHI_BATCHING_LATENCY_THRESHOLD_MS", &c.Batching.LatencyThresholdMs)
	envInt("ASAHI_BATCHING_MAX_BATCH_SIZE", &c.Batching.MaxBatchSize)
	envInt("ASAHI_BATCHING_MIN_BATCH_SIZE", &c.Batching.MinBatchSize)
	envInt("ASAHI_BATCHING_MAX_WAIT_MS", &c.Batching.MaxWaitMs)
	envInt("ASAHI_BATCHING_POLL_INTERVAL_MS", &c.Batching.PollIntervalMs)

	envString("ASAHI_FEATURE_STORE_DRIVER", &c.FeatureStore.Driver)
	envString("ASAHI_FEATURE_STORE_DSN", &c.FeatureStore.DSN)
	envString("ASAHI_FEATURE_STORE_TABLE", &c.FeatureStore.Table)
	envInt("ASAHI_FEATURE_STORE_TOP_K", &c.FeatureStore.TopK)

	envFloat("ASAHI_OPTIMIZATION_GLOBAL_PENALTY", &c.Optimization.GlobalPenalty)
	envString("ASAHI_OPTIMIZATION_DEFAULT_SENSITIVITY", &c.Optimization.DefaultSensitivity)

	envBool("ASAHI_GOVERNANCE_ENCRYPT_AT_REST", &c.Governance.EncryptAtRest)
	envString("ASAHI_GOVERNANCE_ENCRYPTION_PASSPHRASE", &c.Governance.EncryptionPassphrase)
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = os.ExpandEnv(v)
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
