// Package maintenance implements the MaintenanceScheduler (§4.13): a daily
// cron job that checkpoints the observation store's WAL and sweeps
// permanently-disabled task-state rows, grounded on the teacher's
// internal/reliability/maintenance_jobs.go DailyMaintenanceJob (WAL
// checkpoint, then a housekeeping pass) and on trader-go's
// internal/scheduler/scheduler.go for the robfig/cron wiring itself.
package maintenance

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Checkpointer is satisfied by *store.DB.
type Checkpointer interface {
	WALCheckpoint(mode string) error
}

// TaskStateSweeper is satisfied by *store.TaskStateRepo.
type TaskStateSweeper interface {
	DeleteForever(olderThanMs int64) (int64, error)
}

// retentionMs is how long a task stays in DisabledForever before its row is
// swept; long enough that an operator reviewing recent history still finds
// it.
const retentionMs = 30 * 24 * 60 * 60 * 1000

// Scheduler runs the daily maintenance pass on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	db   Checkpointer
	tasks TaskStateSweeper
	log  zerolog.Logger
}

// Config wires a Scheduler.
type Config struct {
	DB       Checkpointer
	Tasks    TaskStateSweeper
	CronSpec string // e.g. "0 3 * * *" — 03:00 daily, local time (the default)
	Logger   zerolog.Logger
}

// New builds a Scheduler and registers the daily job, but does not start it.
func New(cfg Config) (*Scheduler, error) {
	spec := cfg.CronSpec
	if spec == "" {
		spec = "0 3 * * *"
	}

	s := &Scheduler{
		cron:  cron.New(),
		db:    cfg.DB,
		tasks: cfg.Tasks,
		log:   cfg.Logger.With().Str("component", "maintenance").Logger(),
	}

	if _, err := s.cron.AddFunc(spec, s.runDaily); err != nil {
		return nil, fmt.Errorf("maintenance: register daily job: %w", err)
	}
	return s, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("maintenance scheduler started")
}

// Stop waits for any in-flight job to finish, then halts the cron.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("maintenance scheduler stopped")
}

// RunNow executes the daily maintenance pass immediately, outside its
// schedule (used by tests).
func (s *Scheduler) RunNow() {
	s.runDaily()
}

func (s *Scheduler) runDaily() {
	start := time.Now()
	s.log.Info().Msg("starting daily maintenance")

	if s.db != nil {
		if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
			s.log.Warn().Err(err).Msg("WAL checkpoint failed")
		}
	}

	if s.tasks != nil {
		cutoff := time.Now().Add(-retentionMs * time.Millisecond).UnixMilli()
		n, err := s.tasks.DeleteForever(cutoff)
		if err != nil {
			s.log.Warn().Err(err).Msg("task-state sweep failed")
		} else if n > 0 {
			s.log.Info().Int64("deleted", n).Msg("swept disabled-forever task-state rows")
		}
	}

	s.log.Info().Dur("duration_ms", time.Since(start)).Msg("daily maintenance completed")
}
