package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func macroSeries(vals []float64) []domain.Observation {
	out := make([]domain.Observation, 0, len(vals))
	for i, v := range vals {
		out = append(out, domain.Observation{
			SeriesID: "vix_macro", TimestampMs: int64(i), Kind: domain.PayloadMacro,
			Macro: &domain.MacroValue{Value: v},
		})
	}
	return out
}

// perfectlyInverse builds an asset series whose percentage return each step
// is the exact negative of the macro series' percentage return, so the two
// return series are maximally negatively correlated (correlation -> -1).
func perfectlyInverse(n int) (asset, macro []float64) {
	pattern := []float64{0.01, 0.03, 0.02, 0.04, 0.015, 0.025}
	asset = make([]float64, n)
	macro = make([]float64, n)
	asset[0], macro[0] = 100.0, 10.0
	for i := 1; i < n; i++ {
		r := pattern[(i-1)%len(pattern)]
		asset[i] = asset[i-1] * (1 - r)
		macro[i] = macro[i-1] * (1 + r)
	}
	return asset, macro
}

func TestVixCorrelation_StrongNegativeCorrelation_ProducesLong(t *testing.T) {
	s := NewVixCorrelation("BTC", "btc_ohlcv", "vix_macro", 0, 10, 0)
	asset, macro := perfectlyInverse(30)
	market := domain.MarketData{
		"btc_ohlcv": ohlcvSeries(asset),
		"vix_macro": macroSeries(macro),
	}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	got := signals[0]
	assert.Equal(t, domain.DirectionLong, got.Direction, "a correlation well past invertThreshold should read as the asset selling off alongside rising macro stress")
	assert.Greater(t, got.Confidence, 0.5)
}

func TestVixCorrelation_WeakCorrelation_ProducesNeutral(t *testing.T) {
	s := NewVixCorrelation("BTC", "btc_ohlcv", "vix_macro", 0, 10, 0)
	n := 30
	asset := make([]float64, n)
	macro := make([]float64, n)
	for i := 0; i < n; i++ {
		asset[i] = 100 + float64(i)
		macro[i] = 10 + float64(i)
	}
	market := domain.MarketData{
		"btc_ohlcv": ohlcvSeries(asset),
		"vix_macro": macroSeries(macro),
	}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.DirectionNeutral, signals[0].Direction, "a positive correlation never crosses the negative invertThreshold")
}

func TestVixCorrelation_InsufficientHistory_NoSignal(t *testing.T) {
	s := NewVixCorrelation("BTC", "btc_ohlcv", "vix_macro", 0, 10, 0)
	market := domain.MarketData{
		"btc_ohlcv": ohlcvSeries([]float64{100, 101}),
		"vix_macro": macroSeries([]float64{10, 11}),
	}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
