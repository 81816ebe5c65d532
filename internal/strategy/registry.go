// Package strategy holds the pluggable Strategy contract (SPEC_FULL.md
// §4.5) and the three reference strategies that exercise the
// StrategyRunner/Aggregator pipeline: vix_correlation, mean_reversion, and
// volatility_breakout.
package strategy

import (
	"fmt"
	"sort"

	"github.com/sqryxz/mts-pipeline/internal/domain"
)

// Registry is a pure registration table from strategy id to instance,
// mirroring collector.Registry's shape (SPEC_FULL.md §4.5, "explicit
// registration step... removes reflection").
type Registry struct {
	byID map[string]domain.Strategy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]domain.Strategy)}
}

// Register adds a strategy, failing fast (at construction time, not at
// cycle time) if its id is already registered — an AggregationError per
// SPEC_FULL §7, since this is a configuration inconsistency.
func (r *Registry) Register(s domain.Strategy) error {
	if _, exists := r.byID[s.ID()]; exists {
		return fmt.Errorf("strategy %q already registered", s.ID())
	}
	r.byID[s.ID()] = s
	return nil
}

// Get returns the strategy registered under id, or ok=false.
func (r *Registry) Get(id string) (domain.Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Enabled returns the registered strategies named in ids, in the order
// given, erroring if any named id has no registration (a malformed
// configuration, per the Strategy contract in §4.5).
func (r *Registry) Enabled(ids []string) ([]domain.Strategy, error) {
	out := make([]domain.Strategy, 0, len(ids))
	for _, id := range ids {
		s, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("enabled strategy %q is not registered", id)
		}
		out = append(out, s)
	}
	return out, nil
}

// UnionRequiredSeries returns the deduplicated, sorted union of
// RequiredSeries() across strategies.
func UnionRequiredSeries(strategies []domain.Strategy) []string {
	set := make(map[string]struct{})
	for _, s := range strategies {
		for _, series := range s.RequiredSeries() {
			set[series] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for series := range set {
		out = append(out, series)
	}
	sort.Strings(out)
	return out
}

// MaxLookbackMs returns the largest Window().LookbackMs across strategies.
func MaxLookbackMs(strategies []domain.Strategy) int64 {
	var max int64
	for _, s := range strategies {
		if w := s.Window().LookbackMs; w > max {
			max = w
		}
	}
	return max
}
