package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

func TestRegistry_RegisterAndEnabled(t *testing.T) {
	r := NewRegistry()
	a := NewMeanReversion("BTC", "btc_ohlcv", 20, 2.0, 0)
	b := NewVolatilityBreakout("BTC", "btc_ohlcv", 14, 20, 2.0, 0)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	err := r.Register(a)
	assert.Error(t, err, "registering the same strategy id twice must fail fast")

	enabled, err := r.Enabled([]string{"mean_reversion", "volatility_breakout"})
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	_, err = r.Enabled([]string{"does_not_exist"})
	assert.Error(t, err)
}

func TestUnionRequiredSeries_DedupsAndSorts(t *testing.T) {
	a := NewMeanReversion("BTC", "btc_ohlcv", 20, 2.0, 0)
	b := NewVixCorrelation("BTC", "btc_ohlcv", "vix_macro", 0, 20, -0.5)

	union := UnionRequiredSeries([]domain.Strategy{a, b})
	assert.Equal(t, []string{"btc_ohlcv", "vix_macro"}, union)
}
