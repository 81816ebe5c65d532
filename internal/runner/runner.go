// Package runner builds the per-cycle MarketData snapshot and fans strategy
// execution out across a worker pool, the same job/result-channel shape the
// teacher uses for parallel sequence evaluation, grounded on
// evaluation/worker_pool.go.
package runner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/store"
)

// Store is the subset of store.Store the Runner needs, so tests can supply
// a fake without touching SQLite.
type Store interface {
	Range(seriesID string, tLoMs, tHiMs int64) ([]domain.Observation, error)
}

var _ Store = (*store.Store)(nil)

// Runner is the StrategyRunner: it assembles one MarketData snapshot per
// cycle and invokes every enabled strategy against it in parallel, isolating
// each strategy's panics so one broken strategy cannot take the cycle down.
type Runner struct {
	strategies []domain.Strategy
	store      Store
	numWorkers int
	log        zerolog.Logger
}

// Config wires a Runner.
type Config struct {
	Strategies []domain.Strategy
	Store      Store
	NumWorkers int // defaults to 4
	Logger     zerolog.Logger
}

// New builds a Runner from already-resolved (Registry.Enabled) strategies.
func New(cfg Config) *Runner {
	n := cfg.NumWorkers
	if n <= 0 {
		n = 4
	}
	return &Runner{
		strategies: cfg.Strategies,
		store:      cfg.Store,
		numWorkers: n,
		log:        cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// StrategyOutcome pairs a strategy's id with either its signals or the
// error/panic it produced, so the Aggregator and logs can attribute failures.
type StrategyOutcome struct {
	StrategyID string
	Signals    []domain.Signal
	Err        error
}

// Run assembles the MarketData snapshot covering every enabled strategy's
// required series over its own window, then evaluates all strategies in
// parallel, returning one outcome per strategy (same count, any order).
func (r *Runner) Run(nowMs int64) ([]StrategyOutcome, error) {
	if len(r.strategies) == 0 {
		return nil, nil
	}

	market, err := r.buildMarketData(nowMs)
	if err != nil {
		return nil, fmt.Errorf("runner: build market data: %w", err)
	}

	return r.evaluate(market), nil
}

// buildMarketData issues one Store.Range call per distinct (series,
// lookback) pair actually required, using the widest lookback requested for
// any series so every strategy's window is satisfied from a single query.
func (r *Runner) buildMarketData(nowMs int64) (domain.MarketData, error) {
	lookbackBySeries := make(map[string]int64)
	for _, s := range r.strategies {
		w := s.Window()
		for _, series := range s.RequiredSeries() {
			if w.LookbackMs > lookbackBySeries[series] {
				lookbackBySeries[series] = w.LookbackMs
			}
		}
	}

	series := make([]string, 0, len(lookbackBySeries))
	for s := range lookbackBySeries {
		series = append(series, s)
	}
	sort.Strings(series)

	market := make(domain.MarketData, len(series))
	for _, s := range series {
		tLo := nowMs - lookbackBySeries[s]
		obs, err := r.store.Range(s, tLo, nowMs)
		if err != nil {
			return nil, fmt.Errorf("range %s: %w", s, err)
		}
		market[s] = obs
	}
	return market, nil
}

type job struct {
	index    int
	strategy domain.Strategy
}

type result struct {
	index   int
	outcome StrategyOutcome
}

// evaluate runs every strategy's Analyze+Signals through a worker pool,
// recovering any panic into a StrategyOutcome.Err rather than letting it
// crash the cycle (SPEC_FULL.md §4.6, "strategy exceptions are caught").
func (r *Runner) evaluate(market domain.MarketData) []StrategyOutcome {
	n := len(r.strategies)
	jobs := make(chan job, n)
	results := make(chan result, n)

	numWorkers := r.numWorkers
	if n < numWorkers {
		numWorkers = n
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- result{index: j.index, outcome: r.runOne(market, j.strategy)}
			}
		}()
	}

	for i, s := range r.strategies {
		jobs <- job{index: i, strategy: s}
	}
	close(jobs)

	wg.Wait()
	close(results)

	out := make([]StrategyOutcome, n)
	for res := range results {
		out[res.index] = res.outcome
	}
	return out
}

// runOne invokes a single strategy's Analyze/Signals pair, converting any
// panic into a returned error so the worker goroutine keeps running.
func (r *Runner) runOne(market domain.MarketData, s domain.Strategy) (outcome StrategyOutcome) {
	outcome.StrategyID = s.ID()
	defer func() {
		if rec := recover(); rec != nil {
			outcome.Err = fmt.Errorf("strategy %s panicked: %v", s.ID(), rec)
			r.log.Error().Str("strategy_id", s.ID()).Interface("panic", rec).Msg("strategy panic recovered")
		}
	}()

	analysis, err := s.Analyze(market)
	if err != nil {
		outcome.Err = fmt.Errorf("analyze: %w", err)
		return outcome
	}

	signals, err := s.Signals(analysis)
	if err != nil {
		outcome.Err = fmt.Errorf("signals: %w", err)
		return outcome
	}
	outcome.Signals = signals
	return outcome
}
