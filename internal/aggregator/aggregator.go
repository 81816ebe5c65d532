// Package aggregator combines one cycle's per-strategy Signals into a
// single AggregatedSignal per asset, grounded on the teacher's pkg/formulas
// weighted-mean helper (gonum/stat) for the confidence-weighted price and on
// spec.md §4.7's unchanged conflict-resolution algorithm.
package aggregator

import (
	"sort"

	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/pkg/formulas"
)

// Config holds the tunables §4.7 and §9 (Open Question resolution) name.
type Config struct {
	Method              domain.AggregationMethod
	StrategyWeights     map[string]float64
	NeutralThreshold    float64
	StrengthBreakpoints [2]float64 // {weak_upper, moderate_upper}
	MaxPosition         float64
	BasePosition        float64
}

// Aggregator implements §4.7's three conflict-resolution methods.
type Aggregator struct {
	cfg Config
}

// New builds an Aggregator from a resolved Config.
func New(cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg}
}

// Aggregate groups signals by AssetID and produces at most one
// AggregatedSignal per asset, stamped with cycleID and nowMs.
func (a *Aggregator) Aggregate(signals []domain.Signal, cycleID string, nowMs int64) []domain.AggregatedSignal {
	groups := groupByAsset(signals)

	assets := make([]string, 0, len(groups))
	for asset := range groups {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	out := make([]domain.AggregatedSignal, 0, len(assets))
	for _, asset := range assets {
		group := groups[asset]
		var agg domain.AggregatedSignal
		switch a.cfg.Method {
		case domain.MethodMajorityVote:
			agg = a.majorityVote(group)
		case domain.MethodMaxConfidence:
			agg = a.maxConfidence(group)
		default:
			agg = a.weightedAverage(group)
		}
		agg.AssetID = asset
		agg.CycleID = cycleID
		agg.TimestampMs = nowMs
		agg.Method = a.cfg.Method
		if agg.Method == "" {
			agg.Method = domain.MethodWeightedAverage
		}
		agg.Contributors = contributorIDs(group)
		out = append(out, agg)
	}
	return out
}

func groupByAsset(signals []domain.Signal) map[string][]domain.Signal {
	groups := make(map[string][]domain.Signal)
	for _, s := range signals {
		groups[s.AssetID] = append(groups[s.AssetID], s)
	}
	return groups
}

func contributorIDs(group []domain.Signal) []string {
	ids := make([]string, 0, len(group))
	for _, s := range group {
		ids = append(ids, s.StrategyID)
	}
	sort.Strings(ids)
	return ids
}

// weightedAverage implements §4.7 steps 2-9: weights are renormalized over
// contributing strategies only, so a strategy missing this cycle never
// silently drags the score toward zero.
func (a *Aggregator) weightedAverage(group []domain.Signal) domain.AggregatedSignal {
	totalWeight := 0.0
	for _, s := range group {
		totalWeight += a.weightFor(s.StrategyID)
	}
	if totalWeight <= 0 {
		totalWeight = 1
	}

	var directional float64
	for _, s := range group {
		w := a.weightFor(s.StrategyID) / totalWeight
		directional += w * s.Confidence * s.Direction.Sign()
	}

	confidence := abs(directional)
	var direction domain.Direction
	if confidence < a.cfg.NeutralThreshold {
		direction = domain.DirectionNeutral
	} else if directional > 0 {
		direction = domain.DirectionLong
	} else {
		direction = domain.DirectionShort
	}

	agg := domain.AggregatedSignal{
		Direction:  direction,
		Confidence: confidence,
		Strength:   a.strengthFor(confidence),
	}
	a.setPositionSize(&agg)
	a.setPriceAndRisk(&agg, group)
	return agg
}

// majorityVote: direction wins by count of LONG vs SHORT, ties -> NEUTRAL;
// confidence is the mean confidence of the winning side's signals.
func (a *Aggregator) majorityVote(group []domain.Signal) domain.AggregatedSignal {
	var longs, shorts []domain.Signal
	for _, s := range group {
		switch s.Direction {
		case domain.DirectionLong:
			longs = append(longs, s)
		case domain.DirectionShort:
			shorts = append(shorts, s)
		}
	}

	var direction domain.Direction
	var winners []domain.Signal
	switch {
	case len(longs) > len(shorts):
		direction, winners = domain.DirectionLong, longs
	case len(shorts) > len(longs):
		direction, winners = domain.DirectionShort, shorts
	default:
		direction, winners = domain.DirectionNeutral, group
	}

	confidence := meanConfidence(winners)
	agg := domain.AggregatedSignal{
		Direction:  direction,
		Confidence: confidence,
		Strength:   a.strengthFor(confidence),
	}
	a.setPositionSize(&agg)
	a.setPriceAndRisk(&agg, group)
	return agg
}

// maxConfidence: pick the single highest-confidence signal and retain its
// attributes outright (still re-clamped by setPositionSize).
func (a *Aggregator) maxConfidence(group []domain.Signal) domain.AggregatedSignal {
	best := group[0]
	for _, s := range group[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	agg := domain.AggregatedSignal{
		Direction:         best.Direction,
		Confidence:        best.Confidence,
		Strength:          best.Strength,
		PriceAtGeneration: best.PriceAtGeneration,
		StopLoss:          best.StopLoss,
		TakeProfit:        best.TakeProfit,
		Context:           best.Context,
	}
	a.setPositionSize(&agg)
	return agg
}

func meanConfidence(group []domain.Signal) float64 {
	if len(group) == 0 {
		return 0
	}
	var sum float64
	for _, s := range group {
		sum += s.Confidence
	}
	return sum / float64(len(group))
}

func (a *Aggregator) weightFor(strategyID string) float64 {
	if w, ok := a.cfg.StrategyWeights[strategyID]; ok {
		return w
	}
	return 0
}

// strengthFor maps |D| to WEAK/MODERATE/STRONG via the configured
// breakpoints (default 0.33, 0.66 per spec.md §4.7 step 5).
func (a *Aggregator) strengthFor(confidence float64) domain.Strength {
	switch {
	case confidence < a.cfg.StrengthBreakpoints[0]:
		return domain.StrengthWeak
	case confidence < a.cfg.StrengthBreakpoints[1]:
		return domain.StrengthModerate
	default:
		return domain.StrengthStrong
	}
}

// strengthMultiplier turns the coarse Strength bucket into the numeric
// multiplier spec.md §4.7 step 6 folds into position sizing.
func strengthMultiplier(s domain.Strength) float64 {
	switch s {
	case domain.StrengthStrong:
		return 1.0
	case domain.StrengthModerate:
		return 0.66
	default:
		return 0.33
	}
}

// setPositionSize applies step 6: position_size = min(max_position,
// base_position * confidence * strength_multiplier), clamped to
// [0, max_position]. NEUTRAL always sizes to zero (Signal invariant in §3,
// which AggregatedSignal also carries).
func (a *Aggregator) setPositionSize(agg *domain.AggregatedSignal) {
	if agg.Direction == domain.DirectionNeutral {
		agg.PositionSize = 0
		return
	}
	size := a.cfg.BasePosition * agg.Confidence * strengthMultiplier(agg.Strength)
	if size > a.cfg.MaxPosition {
		size = a.cfg.MaxPosition
	}
	if size < 0 {
		size = 0
	}
	agg.PositionSize = size
}

// setPriceAndRisk applies steps 7-8: price_at_generation is the weighted
// mean of contributors' prices (via pkg/formulas.WeightedMean), weighted by
// each contributor's confidence (floored at 0.01); traded volume does not
// enter the weighting. A single contributor's price is used as is. stop_loss/
// take_profit are the contributor average, re-anchored to the correct side
// of price_at_generation for the resolved direction.
func (a *Aggregator) setPriceAndRisk(agg *domain.AggregatedSignal, group []domain.Signal) {
	var prices, weights, stops, profits []float64
	for _, s := range group {
		if s.PriceAtGeneration <= 0 {
			continue
		}
		prices = append(prices, s.PriceAtGeneration)
		weights = append(weights, maxFloat(s.Confidence, 0.01))
		if s.StopLoss > 0 {
			stops = append(stops, s.StopLoss)
		}
		if s.TakeProfit > 0 {
			profits = append(profits, s.TakeProfit)
		}
	}

	switch len(prices) {
	case 0:
		return
	case 1:
		agg.PriceAtGeneration = prices[0]
	default:
		agg.PriceAtGeneration = formulas.WeightedMean(prices, weights)
	}

	if len(stops) > 0 {
		agg.StopLoss = formulas.Mean(stops)
	}
	if len(profits) > 0 {
		agg.TakeProfit = formulas.Mean(profits)
	}
	enforceRiskSide(agg)
}

// enforceRiskSide keeps stop_loss/take_profit on the correct side of
// price_at_generation per direction (§3's Signal invariant, carried
// through to AggregatedSignal): averaging contributors from strategies that
// disagreed on direction can otherwise land them on the wrong side.
func enforceRiskSide(agg *domain.AggregatedSignal) {
	switch agg.Direction {
	case domain.DirectionLong:
		if agg.StopLoss > 0 && agg.StopLoss >= agg.PriceAtGeneration {
			agg.StopLoss = agg.PriceAtGeneration * 0.95
		}
		if agg.TakeProfit > 0 && agg.TakeProfit <= agg.PriceAtGeneration {
			agg.TakeProfit = agg.PriceAtGeneration * 1.10
		}
	case domain.DirectionShort:
		if agg.StopLoss > 0 && agg.StopLoss <= agg.PriceAtGeneration {
			agg.StopLoss = agg.PriceAtGeneration * 1.05
		}
		if agg.TakeProfit > 0 && agg.TakeProfit >= agg.PriceAtGeneration {
			agg.TakeProfit = agg.PriceAtGeneration * 0.90
		}
	default:
		agg.StopLoss = 0
		agg.TakeProfit = 0
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
