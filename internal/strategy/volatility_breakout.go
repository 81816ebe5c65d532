package strategy

import (
	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/pkg/formulas"
)

// VolatilityBreakout is grounded on the teacher's pkg/formulas RSI port
// (go-talib backed) combined with a rolling-stddev breakout
// (gonum/stat.StdDev via formulas.StdDev): an RSI extreme confirmed by an
// expansion in realized volatility is read as the start of a directional
// move rather than noise.
type VolatilityBreakout struct {
	assetID           string
	assetSeriesID     string
	rsiPeriod         int
	stdDevWindow      int
	stdDevMultiplier  float64
	minObservations   int
	lookbackMs        int64
}

// NewVolatilityBreakout builds the strategy for one asset series.
// rsiPeriod defaults to 14, stdDevWindow to 20, stdDevMultiplier to 1.5.
func NewVolatilityBreakout(assetID, assetSeriesID string, rsiPeriod, stdDevWindow int, stdDevMultiplier float64, lookbackMs int64) *VolatilityBreakout {
	if rsiPeriod == 0 {
		rsiPeriod = 14
	}
	if stdDevWindow == 0 {
		stdDevWindow = 20
	}
	if stdDevMultiplier == 0 {
		stdDevMultiplier = 1.5
	}
	minObs := rsiPeriod + 1
	if stdDevWindow*2 > minObs {
		minObs = stdDevWindow * 2
	}
	return &VolatilityBreakout{
		assetID:          assetID,
		assetSeriesID:    assetSeriesID,
		rsiPeriod:        rsiPeriod,
		stdDevWindow:     stdDevWindow,
		stdDevMultiplier: stdDevMultiplier,
		minObservations:  minObs,
		lookbackMs:       lookbackMs,
	}
}

func (s *VolatilityBreakout) ID() string { return "volatility_breakout" }

func (s *VolatilityBreakout) RequiredSeries() []string { return []string{s.assetSeriesID} }

func (s *VolatilityBreakout) Window() domain.Window {
	return domain.Window{LookbackMs: s.lookbackMs, MinObservations: s.minObservations}
}

type volatilityBreakoutAnalysis struct {
	sufficient     bool
	rsi            float64
	recentStdDev   float64
	priorStdDev    float64
	lastPrice      float64
}

func (s *VolatilityBreakout) Analyze(market domain.MarketData) (domain.Analysis, error) {
	c := closes(market[s.assetSeriesID])
	if len(c) < s.minObservations {
		return volatilityBreakoutAnalysis{sufficient: false}, nil
	}

	rsi := formulas.RSI(c, s.rsiPeriod)
	if rsi == nil {
		return volatilityBreakoutAnalysis{sufficient: false}, nil
	}

	returns := formulas.Returns(c)
	if len(returns) < s.stdDevWindow*2 {
		return volatilityBreakoutAnalysis{sufficient: false}, nil
	}
	recent := returns[len(returns)-s.stdDevWindow:]
	prior := returns[len(returns)-2*s.stdDevWindow : len(returns)-s.stdDevWindow]

	return volatilityBreakoutAnalysis{
		sufficient:   true,
		rsi:          *rsi,
		recentStdDev: formulas.StdDev(recent),
		priorStdDev:  formulas.StdDev(prior),
		lastPrice:    c[len(c)-1],
	}, nil
}

func (s *VolatilityBreakout) Signals(analysis domain.Analysis) ([]domain.Signal, error) {
	a := analysis.(volatilityBreakoutAnalysis)
	if !a.sufficient {
		return nil, nil
	}

	expanding := a.priorStdDev > 0 && a.recentStdDev >= a.priorStdDev*s.stdDevMultiplier
	if !expanding {
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionNeutral,
			Confidence:        0,
			Strength:          domain.StrengthWeak,
			PriceAtGeneration: a.lastPrice,
			Context:           map[string]any{"rsi": a.rsi, "recent_stddev": a.recentStdDev, "prior_stddev": a.priorStdDev},
		}}, nil
	}

	const overbought, oversold = 70.0, 30.0
	volRatio := clamp01((a.recentStdDev/a.priorStdDev - s.stdDevMultiplier) / s.stdDevMultiplier)

	switch {
	case a.rsi >= overbought:
		confidence := clamp01((a.rsi-overbought)/(100-overbought))*0.5 + volRatio*0.5
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionShort,
			Confidence:        clamp01(confidence),
			Strength:          strengthFor(confidence),
			PriceAtGeneration: a.lastPrice,
			StopLoss:          a.lastPrice * 1.05,
			TakeProfit:        a.lastPrice * 0.90,
			Context:           map[string]any{"rsi": a.rsi, "recent_stddev": a.recentStdDev},
		}}, nil

	case a.rsi <= oversold:
		confidence := clamp01((oversold-a.rsi)/oversold)*0.5 + volRatio*0.5
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionLong,
			Confidence:        clamp01(confidence),
			Strength:          strengthFor(confidence),
			PriceAtGeneration: a.lastPrice,
			StopLoss:          a.lastPrice * 0.95,
			TakeProfit:        a.lastPrice * 1.10,
			Context:           map[string]any{"rsi": a.rsi, "recent_stddev": a.recentStdDev},
		}}, nil

	default:
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionNeutral,
			Confidence:        0,
			Strength:          domain.StrengthWeak,
			PriceAtGeneration: a.lastPrice,
			Context:           map[string]any{"rsi": a.rsi},
		}}, nil
	}
}
