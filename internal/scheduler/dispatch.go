package scheduler

import (
	"context"
	"math/rand"
	"sync"

	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/store"
)

type dispatchJob struct {
	taskID     string
	collector  domain.Collector
	deadlineMs int64
	tLoMs      int64
	tHiMs      int64
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeTransient
	outcomeFatal
	outcomeRateLimited
)

type dispatchResult struct {
	taskID       string
	nowMs        int64
	outcome      outcome
	observations []domain.Observation
	err          error
}

type workerPool struct {
	tier Tier
	jobs chan dispatchJob
	rnd  *rand.Rand
}

func (s *Scheduler) startWorkerPools(ctx context.Context) map[string]*workerPool {
	pools := make(map[string]*workerPool, len(s.tiers))
	for _, tier := range s.tiers {
		poolSize := tier.PoolSize
		if poolSize <= 0 {
			poolSize = 4
		}
		pool := &workerPool{
			tier: tier,
			jobs: make(chan dispatchJob, 256),
			rnd:  rand.New(rand.NewSource(seedFor(tier.Name))),
		}
		pools[tier.Name] = pool
		for i := 0; i < poolSize; i++ {
			go s.worker(ctx, pool)
		}
	}
	return pools
}

func (s *Scheduler) stopWorkerPools(pools map[string]*workerPool) {
	for _, pool := range pools {
		close(pool.jobs)
	}
}

func seedFor(tierName string) int64 {
	var h int64 = 1469598103934665603
	for _, c := range tierName {
		h ^= int64(c)
		h *= 1099511628211
	}
	return h
}

func (s *Scheduler) worker(ctx context.Context, pool *workerPool) {
	for job := range pool.jobs {
		res := s.runOne(ctx, job)
		select {
		case s.results <- res:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, job dispatchJob) dispatchResult {
	if !s.budgets.Acquire(ctx, job.collector.ProviderID, job.deadlineMs) {
		return dispatchResult{taskID: job.taskID, nowMs: s.clk.NowMs(), outcome: outcomeRateLimited}
	}

	fr := job.collector.Fetch(ctx, job.tLoMs, job.tHiMs)
	now := s.clk.NowMs()

	if fr.Err == nil {
		return dispatchResult{taskID: job.taskID, nowMs: now, outcome: outcomeSuccess, observations: fr.Observations}
	}
	if fr.Fatal {
		return dispatchResult{taskID: job.taskID, nowMs: now, outcome: outcomeFatal, err: fr.Err}
	}
	return dispatchResult{taskID: job.taskID, nowMs: now, outcome: outcomeTransient, err: fr.Err, observations: fr.Observations}
}

// dispatch marks taskID as attempted-this-tick and hands it to its tier's
// worker pool. The state mutation happens synchronously in the scheduler
// loop, which is the sole writer of TaskState (§5).
func (s *Scheduler) dispatch(ctx context.Context, taskID string, pools map[string]*workerPool) {
	col, ok := s.registry.Get(taskID)
	if !ok {
		s.log.Warn().Str("task_id", taskID).Msg("eligible task has no registered collector, skipping")
		return
	}
	tier := s.taskTier[taskID]
	pool, ok := pools[tier.Name]
	if !ok {
		s.log.Error().Str("task_id", taskID).Str("tier", tier.Name).Msg("no worker pool for tier")
		return
	}

	st := s.taskState[taskID]
	now := s.clk.NowMs()
	nextEligible := st.NextEligibleMs()
	deadline := nextEligible + st.IntervalMs/2

	st.LastRunMs = now
	s.taskState[taskID] = st
	if err := s.states.Save(st); err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("failed to persist task state before dispatch")
	}

	tLo := now - s.backfillMs
	tHi := now
	if col.SeriesID != "" {
		if latest, err := s.observations.LatestTimestamp(col.SeriesID); err == nil && latest != nil {
			tLo = *latest
		}
	}

	job := dispatchJob{taskID: taskID, collector: col, deadlineMs: deadline, tLoMs: tLo, tHiMs: tHi}
	select {
	case pool.jobs <- job:
	case <-ctx.Done():
	}
}

// drainResults consumes every currently-buffered result without blocking.
func (s *Scheduler) drainResults() {
	for {
		select {
		case res := <-s.results:
			s.applyResult(res)
		default:
			return
		}
	}
}

func (s *Scheduler) applyResult(res dispatchResult) {
	defer delete(s.inFlight, res.taskID)

	st, ok := s.taskState[res.taskID]
	if !ok {
		return
	}
	tier := s.taskTier[res.taskID]

	switch res.outcome {
	case outcomeRateLimited:
		// Deferred, not a failure: leave consecutive_failures/disabled_until
		// untouched; last_run already advanced at dispatch time, so the
		// next loop iteration retries immediately budget permitting.

	case outcomeSuccess:
		if len(res.observations) > 0 {
			if _, err := s.observations.Put(res.observations); err != nil {
				s.log.Error().Err(err).Str("task_id", res.taskID).Msg("store.put failed after successful fetch")
				if store.IsFatal(err) {
					st.DisabledUntilMs = domain.DisabledForever
				} else {
					st.ConsecutiveFailures++
					st.DisabledUntilMs = res.nowMs + jitteredBackoff(tier.IntervalMs, st.ConsecutiveFailures, s.maxBackoffMs, rngFor(res.taskID))
				}
				break
			}
		}
		st.LastSuccessMs = res.nowMs
		st.ConsecutiveFailures = 0
		st.DisabledUntilMs = 0

	case outcomeTransient:
		if len(res.observations) > 0 {
			if _, err := s.observations.Put(res.observations); err != nil {
				s.log.Error().Err(err).Str("task_id", res.taskID).Msg("store.put failed after partial fetch")
			}
		}
		st.ConsecutiveFailures++
		backoff := jitteredBackoff(tier.IntervalMs, st.ConsecutiveFailures, s.maxBackoffMs, rngFor(res.taskID))
		st.DisabledUntilMs = res.nowMs + backoff
		s.log.Warn().Err(res.err).Str("task_id", res.taskID).Int64("disabled_until_ms", st.DisabledUntilMs).Msg("transient fetch failure, backing off")

	case outcomeFatal:
		st.DisabledUntilMs = domain.DisabledForever
		s.log.Error().Err(res.err).Str("task_id", res.taskID).Msg("fatal fetch failure, task disabled until operator intervention")
		if s.alerts != nil {
			s.alerts.RecordOperationalAlert("scheduler", "task disabled: fatal fetch error", map[string]any{
				"task_id": res.taskID,
				"error":   res.err.Error(),
			})
		}
	}

	s.taskState[res.taskID] = st
	if err := s.states.Save(st); err != nil {
		s.log.Error().Err(err).Str("task_id", res.taskID).Msg("failed to persist task state after result")
	}
}

var rngMu sync.Mutex
var rngByTask = make(map[string]*rand.Rand)

func rngFor(taskID string) *rand.Rand {
	rngMu.Lock()
	defer rngMu.Unlock()
	r, ok := rngByTask[taskID]
	if !ok {
		r = rand.New(rand.NewSource(seedFor(taskID)))
		rngByTask[taskID] = r
	}
	return r
}
