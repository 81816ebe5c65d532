package strategy

import (
	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/pkg/formulas"
)

// VixCorrelation is grounded on the teacher's pkg/formulas.Correlation
// (backed by gonum/stat): it correlates an asset's returns against a macro
// volatility index over the window, and reads a sufficiently negative
// correlation (the asset selling off as risk-off macro stress rises) as a
// LONG signal anticipating the unwind once that stress peaks.
type VixCorrelation struct {
	assetID         string
	assetSeriesID   string
	macroSeriesID   string
	minObservations int
	lookbackMs      int64
	invertThreshold float64
}

// NewVixCorrelation builds the strategy for one asset/macro series pair.
// invertThreshold is the (negative) correlation level past which the
// strategy emits LONG; defaults to -0.5 when zero is passed.
func NewVixCorrelation(assetID, assetSeriesID, macroSeriesID string, lookbackMs int64, minObservations int, invertThreshold float64) *VixCorrelation {
	if invertThreshold == 0 {
		invertThreshold = -0.5
	}
	return &VixCorrelation{
		assetID:         assetID,
		assetSeriesID:   assetSeriesID,
		macroSeriesID:   macroSeriesID,
		minObservations: minObservations,
		lookbackMs:      lookbackMs,
		invertThreshold: invertThreshold,
	}
}

func (s *VixCorrelation) ID() string { return "vix_correlation" }

func (s *VixCorrelation) RequiredSeries() []string {
	return []string{s.assetSeriesID, s.macroSeriesID}
}

func (s *VixCorrelation) Window() domain.Window {
	return domain.Window{LookbackMs: s.lookbackMs, MinObservations: s.minObservations}
}

type vixAnalysis struct {
	sufficient  bool
	correlation float64
	lastPrice   float64
}

func (s *VixCorrelation) Analyze(market domain.MarketData) (domain.Analysis, error) {
	assetCloses := closes(market[s.assetSeriesID])
	macro := macroValues(market[s.macroSeriesID])

	if len(assetCloses) < s.minObservations || len(macro) < s.minObservations {
		return vixAnalysis{sufficient: false}, nil
	}

	assetReturns := formulas.Returns(assetCloses)
	macroReturns := formulas.Returns(macro)
	if len(assetReturns) == 0 || len(macroReturns) == 0 {
		return vixAnalysis{sufficient: false}, nil
	}
	ar, mr := alignTail(assetReturns, macroReturns)

	return vixAnalysis{
		sufficient:  true,
		correlation: formulas.Correlation(ar, mr),
		lastPrice:   assetCloses[len(assetCloses)-1],
	}, nil
}

func (s *VixCorrelation) Signals(analysis domain.Analysis) ([]domain.Signal, error) {
	a := analysis.(vixAnalysis)
	if !a.sufficient {
		return nil, nil
	}

	if a.correlation > s.invertThreshold {
		return []domain.Signal{{
			StrategyID:        s.ID(),
			AssetID:           s.assetID,
			Direction:         domain.DirectionNeutral,
			Confidence:        clamp01(abs(a.correlation)),
			Strength:          domain.StrengthWeak,
			PriceAtGeneration: a.lastPrice,
			Context:           map[string]any{"correlation": a.correlation},
		}}, nil
	}

	confidence := clamp01(abs(a.correlation))
	return []domain.Signal{{
		StrategyID:        s.ID(),
		AssetID:           s.assetID,
		Direction:         domain.DirectionLong,
		Confidence:        confidence,
		Strength:          strengthFor(confidence),
		PriceAtGeneration: a.lastPrice,
		StopLoss:          a.lastPrice * 0.95,
		TakeProfit:        a.lastPrice * 1.10,
		Context:           map[string]any{"correlation": a.correlation},
	}}, nil
}

func strengthFor(confidence float64) domain.Strength {
	switch {
	case confidence < 0.33:
		return domain.StrengthWeak
	case confidence < 0.66:
		return domain.StrengthModerate
	default:
		return domain.StrengthStrong
	}
}
