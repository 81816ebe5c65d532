package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DataDir:             "/tmp/data",
		Tiers:               []TierConfig{{Name: "high_frequency", IntervalMs: 900_000}},
		AggregationMethod:   "weighted_average",
		EnabledStrategies:   []string{"mean_reversion"},
		StrategyWeights:     map[string]float64{"mean_reversion": 1.0},
		StrengthBreakpoints: [2]float64{0.33, 0.66},
		MaxPosition:         1.0,
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsEmptyDataDir(t *testing.T) {
	c := validConfig()
	c.DataDir = ""
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNoTiers(t *testing.T) {
	c := validConfig()
	c.Tiers = nil
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNonPositiveTierInterval(t *testing.T) {
	c := validConfig()
	c.Tiers = []TierConfig{{Name: "bad", IntervalMs: 0}}
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsUnknownAggregationMethod(t *testing.T) {
	c := validConfig()
	c.AggregationMethod = "rock_paper_scissors"
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsEnabledStrategyWithNoWeight(t *testing.T) {
	c := validConfig()
	c.EnabledStrategies = []string{"no_such_strategy"}
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNonIncreasingStrengthBreakpoints(t *testing.T) {
	c := validConfig()
	c.StrengthBreakpoints = [2]float64{0.66, 0.33}
	assert.Error(t, c.Validate())
}

func TestValidate_RejectsNonPositiveMaxPosition(t *testing.T) {
	c := validConfig()
	c.MaxPosition = 0
	assert.Error(t, c.Validate())
}

func TestLoad_DefaultsProduceAValidConfig(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Tiers)
	assert.Equal(t, "weighted_average", cfg.AggregationMethod)
}

func TestLoad_HonorsOverriddenEnvVar(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.HTTPPort)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Nil(t, splitList("   "))
	assert.Equal(t, []string{"a", "b"}, splitList("a, b"))
}
