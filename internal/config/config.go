// Package config loads pipeline configuration from the environment, in the
// godotenv-then-env-vars-then-validate style the teacher's own config
// package uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// TierConfig declares one scheduling tier: a cadence, a membership list of
// task ids, and the provider rate budget it draws from.
type TierConfig struct {
	Name       string
	IntervalMs int64
	TaskIDs    []string
	ProviderID string
}

// ProviderLimit is a provider's token-bucket shape.
type ProviderLimit struct {
	Capacity     float64
	RefillPerSec float64
}

// ChannelConfig declares one notification sink's non-functional knobs; the
// filter predicate and deliver function are wired in code (internal/app),
// not read from config, since they are not representable as plain values.
type ChannelConfig struct {
	ID            string
	MinIntervalMs int64
	MaxRetries    int
	TimeoutMs     int64
}

// Config holds every recognized configuration value for the pipeline,
// grouped per SPEC_FULL.md §6.
type Config struct {
	// Server / ambient
	HTTPPort int
	DevMode  bool
	LogLevel string
	DataDir  string

	// Scheduling
	Tiers             []TierConfig
	MaxBackoffMs      int64
	InitialBackfillMs int64

	// Strategies
	EnabledStrategies []string
	StrategyWeights   map[string]float64

	// Aggregation
	AggregationMethod   string
	NeutralThreshold    float64
	StrengthBreakpoints [2]float64
	MaxPosition         float64
	BasePosition        float64
	EmitThreshold       float64

	// Notifications
	Channels       []ChannelConfig
	QueueCapacity  int

	// Providers
	ProviderLimits map[string]ProviderLimit

	// ArchiveBackup (§4.12)
	BackupIntervalMs   int64
	BackupBucket       string
	BackupEndpoint     string
	BackupRegion       string
	BackupAccessKey    string
	BackupSecretKey    string
	BackupForcePath    bool
	BackupRetentionDays int

	// MaintenanceScheduler (§4.13)
	MaintenanceCronSpec string
}

// Load reads configuration from a best-effort .env file plus environment
// variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving DATA_DIR: %w", err)
	}

	cfg := &Config{
		HTTPPort: getEnvAsInt("HTTP_PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  absDataDir,

		Tiers: []TierConfig{
			{Name: "high_frequency", IntervalMs: 900_000, TaskIDs: splitList(getEnv("TIER_HIGH_FREQUENCY_TASKS", "btc_ohlcv,eth_ohlcv")), ProviderID: getEnv("TIER_HIGH_FREQUENCY_PROVIDER", "market_data")},
			{Name: "hourly", IntervalMs: 3_600_000, TaskIDs: splitList(getEnv("TIER_HOURLY_TASKS", "sol_ohlcv,ada_ohlcv")), ProviderID: getEnv("TIER_HOURLY_PROVIDER", "market_data")},
			{Name: "macro", IntervalMs: 86_400_000, TaskIDs: splitList(getEnv("TIER_MACRO_TASKS", "vix_macro,dxy_macro")), ProviderID: getEnv("TIER_MACRO_PROVIDER", "macro_data")},
			{Name: "signal_cycle", IntervalMs: getEnvAsInt64("SIGNAL_CYCLE_INTERVAL_MS", 3_600_000), TaskIDs: []string{"signal_cycle"}, ProviderID: "internal"},
		},
		MaxBackoffMs:      getEnvAsInt64("MAX_BACKOFF_MS", 21_600_000),
		InitialBackfillMs: getEnvAsInt64("INITIAL_BACKFILL_MS", 7*86_400_000),

		EnabledStrategies: splitList(getEnv("STRATEGIES_ENABLED", "vix_correlation,mean_reversion,volatility_breakout")),
		StrategyWeights: map[string]float64{
			"vix_correlation":     getEnvAsFloat("STRATEGY_WEIGHT_VIX_CORRELATION", 0.30),
			"mean_reversion":      getEnvAsFloat("STRATEGY_WEIGHT_MEAN_REVERSION", 0.35),
			"volatility_breakout": getEnvAsFloat("STRATEGY_WEIGHT_VOLATILITY_BREAKOUT", 0.35),
		},

		AggregationMethod:   getEnv("AGGREGATION_METHOD", "weighted_average"),
		NeutralThreshold:    getEnvAsFloat("NEUTRAL_THRESHOLD", 0.1),
		StrengthBreakpoints: [2]float64{getEnvAsFloat("STRENGTH_BREAKPOINT_WEAK", 0.33), getEnvAsFloat("STRENGTH_BREAKPOINT_MODERATE", 0.66)},
		MaxPosition:         getEnvAsFloat("MAX_POSITION", 1.0),
		BasePosition:        getEnvAsFloat("BASE_POSITION", 0.5),
		EmitThreshold:       getEnvAsFloat("EMIT_THRESHOLD", 0.3),

		Channels: []ChannelConfig{
			{ID: "log", MinIntervalMs: getEnvAsInt64("CHANNEL_LOG_MIN_INTERVAL_MS", 0), MaxRetries: 1, TimeoutMs: 5_000},
			{ID: "websocket", MinIntervalMs: getEnvAsInt64("CHANNEL_WEBSOCKET_MIN_INTERVAL_MS", 60_000), MaxRetries: getEnvAsInt("CHANNEL_WEBSOCKET_MAX_RETRIES", 3), TimeoutMs: getEnvAsInt64("CHANNEL_WEBSOCKET_TIMEOUT_MS", 5_000)},
		},
		QueueCapacity: getEnvAsInt("NOTIFICATION_QUEUE_CAPACITY", 256),

		ProviderLimits: map[string]ProviderLimit{
			"market_data": {Capacity: getEnvAsFloat("PROVIDER_MARKET_DATA_CAPACITY", 30), RefillPerSec: getEnvAsFloat("PROVIDER_MARKET_DATA_REFILL_PER_SEC", 0.5)},
			"macro_data":  {Capacity: getEnvAsFloat("PROVIDER_MACRO_DATA_CAPACITY", 10), RefillPerSec: getEnvAsFloat("PROVIDER_MACRO_DATA_REFILL_PER_SEC", 0.05)},
			"internal":    {Capacity: 1000, RefillPerSec: 1000},
		},

		BackupIntervalMs:    getEnvAsInt64("BACKUP_INTERVAL_MS", 86_400_000),
		BackupBucket:        getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint:      getEnv("BACKUP_ENDPOINT", ""),
		BackupRegion:        getEnv("BACKUP_REGION", "auto"),
		BackupAccessKey:     getEnv("BACKUP_ACCESS_KEY", ""),
		BackupSecretKey:     getEnv("BACKUP_SECRET_KEY", ""),
		BackupForcePath:     getEnvAsBool("BACKUP_FORCE_PATH_STYLE", true),
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),

		MaintenanceCronSpec: getEnv("MAINTENANCE_CRON", "0 15 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants that would otherwise surface as
// confusing runtime errors deep inside the Scheduler or Aggregator.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}
	for _, t := range c.Tiers {
		if t.IntervalMs <= 0 {
			return fmt.Errorf("tier %q: interval_ms must be positive", t.Name)
		}
	}
	switch c.AggregationMethod {
	case "weighted_average", "majority_vote", "max_confidence":
	default:
		return fmt.Errorf("unknown aggregation method %q", c.AggregationMethod)
	}
	sum := 0.0
	for _, id := range c.EnabledStrategies {
		w, ok := c.StrategyWeights[id]
		if !ok {
			return fmt.Errorf("strategy %q enabled but has no configured weight", id)
		}
		sum += w
	}
	if len(c.EnabledStrategies) > 0 && sum <= 0 {
		return fmt.Errorf("enabled strategy weights must sum to a positive value")
	}
	if c.StrengthBreakpoints[0] >= c.StrengthBreakpoints[1] {
		return fmt.Errorf("strength breakpoints must be strictly increasing")
	}
	if c.MaxPosition <= 0 {
		return fmt.Errorf("max_position must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
