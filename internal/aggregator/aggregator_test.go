package aggregator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func weightedConfig() Config {
	return Config{
		Method:              domain.MethodWeightedAverage,
		StrategyWeights:     map[string]float64{"A": 0.6, "B": 0.4},
		NeutralThreshold:    0.1,
		StrengthBreakpoints: [2]float64{0.33, 0.66},
		MaxPosition:         1000,
		BasePosition:        1000,
	}
}

func sig(strategyID, assetID string, dir domain.Direction, confidence, price float64) domain.Signal {
	return domain.Signal{
		StrategyID: strategyID, AssetID: assetID, Direction: dir, Confidence: confidence,
		TimestampMs: 1, PriceAtGeneration: price, StopLoss: price * 0.95, TakeProfit: price * 1.05,
	}
}

// E3 — weighted aggregation: D = 0.6*0.8 - 0.4*0.5 = 0.28, WEAK LONG.
func TestAggregate_E3_WeightedAggregation(t *testing.T) {
	a := New(weightedConfig())
	signals := []domain.Signal{
		sig("A", "X", domain.DirectionLong, 0.8, 100),
		sig("B", "X", domain.DirectionShort, 0.5, 100),
	}
	out := a.Aggregate(signals, "cycle-1", 1000)
	require.Len(t, out, 1)
	got := out[0]
	assert.Equal(t, domain.DirectionLong, got.Direction)
	assert.InDelta(t, 0.28, got.Confidence, 1e-9)
	assert.Equal(t, domain.StrengthWeak, got.Strength)
	assert.Equal(t, []string{"A", "B"}, got.Contributors)
}

// E4 — conflict resolving to NEUTRAL: D = 0.6*0.5 - 0.4*0.75 = 0.0.
func TestAggregate_E4_ConflictResolvesToNeutral(t *testing.T) {
	a := New(weightedConfig())
	signals := []domain.Signal{
		sig("A", "X", domain.DirectionLong, 0.5, 100),
		sig("B", "X", domain.DirectionShort, 0.75, 100),
	}
	out := a.Aggregate(signals, "cycle-1", 1000)
	require.Len(t, out, 1)
	got := out[0]
	assert.Equal(t, domain.DirectionNeutral, got.Direction)
	assert.Equal(t, 0.0, got.PositionSize)
}

// Invariant 6: aggregator determinism under permutation of the input list.
func TestAggregate_Determinism_UnderPermutation(t *testing.T) {
	cfg := weightedConfig()
	base := []domain.Signal{
		sig("A", "X", domain.DirectionLong, 0.8, 100),
		sig("B", "X", domain.DirectionShort, 0.5, 100),
		sig("A", "Y", domain.DirectionShort, 0.6, 50),
		sig("B", "Y", domain.DirectionShort, 0.4, 50),
	}

	first := New(cfg).Aggregate(append([]domain.Signal(nil), base...), "cycle-1", 1000)

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 10; i++ {
		permuted := append([]domain.Signal(nil), base...)
		rnd.Shuffle(len(permuted), func(i, j int) { permuted[i], permuted[j] = permuted[j], permuted[i] })
		got := New(cfg).Aggregate(permuted, "cycle-1", 1000)
		assert.Equal(t, first, got, "aggregation must not depend on input signal order")
	}
}

// Invariant 7: aggregator neutrality, all-NEUTRAL inputs.
func TestAggregate_Neutrality_AllSignalsNeutral(t *testing.T) {
	a := New(weightedConfig())
	signals := []domain.Signal{
		sig("A", "X", domain.DirectionNeutral, 0.9, 100),
		sig("B", "X", domain.DirectionNeutral, 0.9, 100),
	}
	out := a.Aggregate(signals, "cycle-1", 1000)
	require.Len(t, out, 1)
	assert.Equal(t, domain.DirectionNeutral, out[0].Direction)
	assert.Equal(t, 0.0, out[0].PositionSize)
}

// Invariant 8: risk invariants for every non-NEUTRAL signal.
func TestAggregate_RiskInvariants(t *testing.T) {
	cfg := weightedConfig()
	cfg.MaxPosition = 500
	a := New(cfg)
	signals := []domain.Signal{
		sig("A", "X", domain.DirectionLong, 0.9, 100),
		sig("B", "X", domain.DirectionLong, 0.8, 100),
	}
	out := a.Aggregate(signals, "cycle-1", 1000)
	require.Len(t, out, 1)
	got := out[0]
	require.NotEqual(t, domain.DirectionNeutral, got.Direction)
	assert.GreaterOrEqual(t, got.PositionSize, 0.0)
	assert.LessOrEqual(t, got.PositionSize, cfg.MaxPosition)
	if got.Direction == domain.DirectionLong {
		assert.Less(t, got.StopLoss, got.PriceAtGeneration)
		assert.Greater(t, got.TakeProfit, got.PriceAtGeneration)
	} else {
		assert.Greater(t, got.StopLoss, got.PriceAtGeneration)
		assert.Less(t, got.TakeProfit, got.PriceAtGeneration)
	}
}

// E6 — strategy crash isolation is the Runner's responsibility (panic
// recovery), but the Aggregator must still produce a valid AggregatedSignal
// from whichever strategies' signals actually arrive for a cycle.
func TestAggregate_MissingContributor_StillAggregates(t *testing.T) {
	a := New(weightedConfig())
	signals := []domain.Signal{
		sig("A", "X", domain.DirectionLong, 0.8, 100),
	}
	out := a.Aggregate(signals, "cycle-1", 1000)
	require.Len(t, out, 1)
	assert.Equal(t, domain.DirectionLong, out[0].Direction)
	assert.Equal(t, []string{"A"}, out[0].Contributors)
}
