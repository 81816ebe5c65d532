package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// volatilityBreakoutCloses builds a 41-point close series: a low-variance
// alternating segment followed by a sharply accelerating, higher-variance
// segment, so both the RSI extreme and the stddev-expansion condition fire.
func volatilityBreakoutCloses() []float64 {
	prior := make([]float64, 21)
	for i := range prior {
		if i%2 == 0 {
			prior[i] = 100.0
		} else {
			prior[i] = 101.0
		}
	}

	recent := []float64{prior[len(prior)-1]}
	factors := []float64{1.12, 1.04}
	for i := 0; i < 20; i++ {
		recent = append(recent, recent[len(recent)-1]*factors[i%2])
	}

	out := append([]float64{}, prior...)
	return append(out, recent[1:]...)
}

func TestVolatilityBreakout_ExpandingVolAtRSIExtreme_ProducesSignal(t *testing.T) {
	s := NewVolatilityBreakout("BTC", "btc_ohlcv", 0, 0, 0, 0)
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries(volatilityBreakoutCloses())}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	got := signals[0]
	assert.NotEqual(t, domain.DirectionNeutral, got.Direction, "an RSI extreme confirmed by a volatility expansion must not be read as noise")
	assert.Greater(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
}

func TestVolatilityBreakout_InsufficientHistory_NoSignal(t *testing.T) {
	s := NewVolatilityBreakout("BTC", "btc_ohlcv", 0, 0, 0, 0)
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries([]float64{100, 101, 102})}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	assert.Empty(t, signals)
}

func TestVolatilityBreakout_ConstantVolatility_NoExpansionYieldsNeutral(t *testing.T) {
	s := NewVolatilityBreakout("BTC", "btc_ohlcv", 0, 0, 0, 0)
	closes := make([]float64, 41)
	for i := range closes {
		if i%2 == 0 {
			closes[i] = 100.0
		} else {
			closes[i] = 101.0
		}
	}
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries(closes)}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, domain.DirectionNeutral, signals[0].Direction, "equal recent/prior stddev never satisfies the expansion multiplier, regardless of RSI")
}
