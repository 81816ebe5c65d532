package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func ohlcvSeries(closesVals []float64) []domain.Observation {
	out := make([]domain.Observation, 0, len(closesVals))
	for i, c := range closesVals {
		out = append(out, domain.Observation{
			SeriesID: "btc_ohlcv", TimestampMs: int64(i), Kind: domain.PayloadOHLCV,
			OHLCV: &domain.OHLCV{Open: c, High: c, Low: c, Close: c, Volume: 1},
		})
	}
	return out
}

func flatThenTail(flat float64, n int, tail float64) []float64 {
	vals := make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		vals = append(vals, flat)
	}
	return append(vals, tail)
}

func TestMeanReversion_PriceSpike_ProducesShort(t *testing.T) {
	s := NewMeanReversion("BTC", "btc_ohlcv", 20, 2.0, 0)
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries(flatThenTail(100, 20, 300))}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	got := signals[0]
	assert.Equal(t, domain.DirectionShort, got.Direction, "a sharp spike above a flat history should read as overextended")
	assert.Greater(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
	assert.Equal(t, "BTC", got.AssetID)
}

func TestMeanReversion_PriceCrash_ProducesLong(t *testing.T) {
	s := NewMeanReversion("BTC", "btc_ohlcv", 20, 2.0, 0)
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries(flatThenTail(100, 20, 20))}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	got := signals[0]
	assert.Equal(t, domain.DirectionLong, got.Direction, "a sharp drop below a flat history should read as oversold")
	assert.Greater(t, got.Confidence, 0.0)
}

func TestMeanReversion_InsufficientHistory_NoSignal(t *testing.T) {
	s := NewMeanReversion("BTC", "btc_ohlcv", 20, 2.0, 0)
	market := domain.MarketData{"btc_ohlcv": ohlcvSeries([]float64{100, 101, 102})}

	analysis, err := s.Analyze(market)
	require.NoError(t, err)
	signals, err := s.Signals(analysis)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
