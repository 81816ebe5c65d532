// Package scheduler is the system's control loop: a single-threaded
// eligibility/dispatch loop coordinating bounded per-tier worker pools,
// grounded on the teacher's internal/queue job/priority vocabulary and
// results-channel drain pattern, generalized here from fixed interval
// tickers to the spec's last-run/backoff-aware eligibility formula.
package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/clock"
	"github.com/sqryxz/mts-pipeline/internal/collector"
	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/ratebudget"
	"github.com/sqryxz/mts-pipeline/internal/store"
)

// maxSleep bounds how long the loop waits for the nearest next-eligible
// task before waking to re-check state (e.g. after Register/Configure calls
// made concurrently with Run, or simply as a liveness heartbeat).
const maxSleep = 60 * time.Second

// Tier is the scheduler's view of one cadence/rate-budget grouping.
type Tier struct {
	Name       string
	IntervalMs int64
	TaskIDs    []string
	ProviderID string
	PoolSize   int
}

// Scheduler is the tiered dispatcher described by SPEC_FULL.md §4.4.
type Scheduler struct {
	tiers        []Tier
	registry     *collector.Registry
	states       *store.TaskStateRepo
	observations *store.Store
	budgets      *ratebudget.Manager
	clk          clock.Clock
	maxBackoffMs int64
	backfillMs   int64
	alerts       domain.AlertSink
	log          zerolog.Logger

	taskState map[string]domain.TaskState
	taskTier  map[string]Tier
	inFlight  map[string]bool
	results   chan dispatchResult
}

// Config wires a Scheduler's dependencies.
type Config struct {
	Tiers             []Tier
	Registry          *collector.Registry
	States            *store.TaskStateRepo
	Observations      *store.Store
	Budgets           *ratebudget.Manager
	Clock             clock.Clock
	MaxBackoffMs      int64
	InitialBackfillMs int64
	Alerts            domain.AlertSink
	Logger            zerolog.Logger
}

// New constructs a Scheduler and loads any persisted TaskState.
func New(cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		tiers:        cfg.Tiers,
		registry:     cfg.Registry,
		states:       cfg.States,
		observations: cfg.Observations,
		budgets:      cfg.Budgets,
		clk:          cfg.Clock,
		maxBackoffMs: cfg.MaxBackoffMs,
		backfillMs:   cfg.InitialBackfillMs,
		alerts:       cfg.Alerts,
		log:          cfg.Logger.With().Str("component", "scheduler").Logger(),
		taskState:    make(map[string]domain.TaskState),
		taskTier:     make(map[string]Tier),
		inFlight:     make(map[string]bool),
		results:      make(chan dispatchResult, 64),
	}

	loaded, err := cfg.States.Load()
	if err != nil {
		return nil, err
	}

	for _, tier := range cfg.Tiers {
		for _, taskID := range tier.TaskIDs {
			s.taskTier[taskID] = tier
			if existing, ok := loaded[taskID]; ok {
				s.taskState[taskID] = existing
				continue
			}
			// LastSuccessMs starts one interval in the past so a brand new
			// task's NextEligibleMs is "now", not "now + interval": a task is
			// eligible on its first tick, not after waiting out a full cadence
			// it never actually ran.
			s.taskState[taskID] = domain.TaskState{
				TaskID:        taskID,
				Tier:          tier.Name,
				IntervalMs:    tier.IntervalMs,
				LastSuccessMs: -tier.IntervalMs,
				SchemaVersion: 1,
			}
		}
	}

	return s, nil
}

// Run is the scheduler's control loop: compute the nearest eligible time,
// sleep (bounded), dispatch everyone eligible, drain results, repeat until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	pools := s.startWorkerPools(ctx)
	defer s.stopWorkerPools(pools)

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler loop cancelled, flushing state")
			return nil
		default:
		}

		now := s.clk.NowMs()
		nextWake := now + maxSleep.Milliseconds()
		var eligible []string

		for taskID, st := range s.taskState {
			if !st.Enabled(now) || s.inFlight[taskID] {
				continue
			}
			next := st.NextEligibleMs()
			if now >= next {
				eligible = append(eligible, taskID)
			} else if next < nextWake {
				nextWake = next
			}
		}

		for _, taskID := range eligible {
			s.inFlight[taskID] = true
			s.dispatch(ctx, taskID, pools)
		}

		s.drainResults()

		if len(eligible) > 0 {
			continue // re-check immediately; more tasks may now be due
		}

		sleepFor := time.Duration(nextWake-now) * time.Millisecond
		if sleepFor < 0 {
			sleepFor = 0
		}
		if sleepFor > maxSleep {
			sleepFor = maxSleep
		}

		select {
		case <-ctx.Done():
			s.drainResults()
			s.log.Info().Msg("scheduler loop cancelled, flushing state")
			return nil
		case <-s.clk.After(sleepFor):
		case res := <-s.results:
			s.applyResult(res)
		}
	}
}

// Snapshot returns a copy of every task's current state, for the HTTP
// surface and HealthReporter.
func (s *Scheduler) Snapshot() []domain.TaskState {
	out := make([]domain.TaskState, 0, len(s.taskState))
	for _, st := range s.taskState {
		out = append(out, st.Clone())
	}
	return out
}

func jitteredBackoff(intervalMs int64, failures int, maxBackoffMs int64, rnd *rand.Rand) int64 {
	if failures < 1 {
		failures = 1
	}
	base := float64(intervalMs) * pow2(failures)
	if base > float64(maxBackoffMs) {
		base = float64(maxBackoffMs)
	}
	jitter := 0.75 + rnd.Float64()*0.5 // ±25% => [0.75, 1.25]
	delay := int64(base * jitter)
	if delay > maxBackoffMs {
		delay = maxBackoffMs
	}
	return delay
}

func pow2(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
