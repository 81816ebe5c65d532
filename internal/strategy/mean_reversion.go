package strategy

import (
	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/pkg/formulas"
)

// MeanReversion is grounded on the teacher's pkg/formulas Bollinger Band
// position calculation (go-talib backed): price pinned near the upper band
// is read as overextended (SHORT), near the lower band as oversold (LONG),
// scaled by distance from the midline.
type MeanReversion struct {
	assetID         string
	assetSeriesID   string
	period          int
	stdDevMult      float64
	minObservations int
	lookbackMs      int64
}

// NewMeanReversion builds the strategy for one asset series. period/
// stdDevMult default to the conventional 20/2.0 when zero is passed.
func NewMeanReversion(assetID, assetSeriesID string, period int, stdDevMult float64, lookbackMs int64) *MeanReversion {
	if period == 0 {
		period = 20
	}
	if stdDevMult == 0 {
		stdDevMult = 2.0
	}
	return &MeanReversion{
		assetID:         assetID,
		assetSeriesID:   assetSeriesID,
		period:          period,
		stdDevMult:      stdDevMult,
		minObservations: period + 1,
		lookbackMs:      lookbackMs,
	}
}

func (s *MeanReversion) ID() string { return "mean_reversion" }

func (s *MeanReversion) RequiredSeries() []string { return []string{s.assetSeriesID} }

func (s *MeanReversion) Window() domain.Window {
	return domain.Window{LookbackMs: s.lookbackMs, MinObservations: s.minObservations}
}

type meanReversionAnalysis struct {
	sufficient bool
	position   formulas.BollingerPosition
	lastPrice  float64
}

func (s *MeanReversion) Analyze(market domain.MarketData) (domain.Analysis, error) {
	c := closes(market[s.assetSeriesID])
	if len(c) < s.minObservations {
		return meanReversionAnalysis{sufficient: false}, nil
	}
	pos := formulas.BollingerPositionOf(c, s.period, s.stdDevMult)
	if pos == nil {
		return meanReversionAnalysis{sufficient: false}, nil
	}
	return meanReversionAnalysis{sufficient: true, position: *pos, lastPrice: c[len(c)-1]}, nil
}

func (s *MeanReversion) Signals(analysis domain.Analysis) ([]domain.Signal, error) {
	a := analysis.(meanReversionAnalysis)
	if !a.sufficient {
		return nil, nil
	}

	const upperTrigger, lowerTrigger = 0.8, 0.2
	pos := a.position.Position

	switch {
	case pos >= upperTrigger:
		confidence := clamp01((pos - upperTrigger) / (1 - upperTrigger))
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionShort,
			Confidence:        confidence,
			Strength:          strengthFor(confidence),
			PriceAtGeneration: a.lastPrice,
			StopLoss:          a.position.Bands.Upper * 1.02,
			TakeProfit:        a.position.Bands.Middle,
			Context:           map[string]any{"bollinger_position": pos, "bands": a.position.Bands},
		}}, nil

	case pos <= lowerTrigger:
		confidence := clamp01((lowerTrigger - pos) / lowerTrigger)
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionLong,
			Confidence:        confidence,
			Strength:          strengthFor(confidence),
			PriceAtGeneration: a.lastPrice,
			StopLoss:          a.position.Bands.Lower * 0.98,
			TakeProfit:        a.position.Bands.Middle,
			Context:           map[string]any{"bollinger_position": pos, "bands": a.position.Bands},
		}}, nil

	default:
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionNeutral,
			Confidence:        0,
			Strength:          domain.StrengthWeak,
			PriceAtGeneration: a.lastPrice,
			Context:           map[string]any{"bollinger_position": pos},
		}}, nil
	}
}
