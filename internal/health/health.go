// Package health implements the HealthReporter: process/host liveness via
// gopsutil (grounded on the teacher's server/system_handlers.go
// getSystemStats, which reads cpu.Percent/mem.VirtualMemory the same way),
// combined with Store series freshness and the Scheduler's TaskState
// snapshot, plus an operational alert log satisfying domain.AlertSink.
package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/store"
)

// StoreHealth is implemented by *store.Store.
type StoreHealth interface {
	Health() (map[string]store.SeriesHealth, error)
}

// TaskSnapshotter is implemented by *scheduler.Scheduler.
type TaskSnapshotter interface {
	Snapshot() []domain.TaskState
}

// OperationalAlert is one recorded non-trading alert (a fatal collector
// failure, a strategy crash), kept in a small ring buffer for the status
// endpoint.
type OperationalAlert struct {
	TimestampMs int64          `json:"timestamp_ms"`
	Source      string         `json:"source"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields,omitempty"`
}

const maxAlertHistory = 200

// Reporter aggregates process, data-freshness, and task-state signals into
// one status snapshot and implements domain.AlertSink so the Scheduler and
// Runner can report failures without depending on this package.
type Reporter struct {
	store     StoreHealth
	scheduler TaskSnapshotter
	startedAt time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	alerts []OperationalAlert
}

// Config wires a Reporter.
type Config struct {
	Store     StoreHealth
	Scheduler TaskSnapshotter
	Logger    zerolog.Logger
}

// New builds a Reporter. startedAt is stamped at construction time.
func New(cfg Config) *Reporter {
	return &Reporter{
		store:     cfg.Store,
		scheduler: cfg.Scheduler,
		startedAt: time.Now(),
		log:       cfg.Logger.With().Str("component", "health").Logger(),
	}
}

// RecordOperationalAlert implements domain.AlertSink.
func (r *Reporter) RecordOperationalAlert(source, message string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = append(r.alerts, OperationalAlert{
		TimestampMs: time.Now().UnixMilli(),
		Source:      source,
		Message:     message,
		Fields:      fields,
	})
	if len(r.alerts) > maxAlertHistory {
		r.alerts = r.alerts[len(r.alerts)-maxAlertHistory:]
	}
	r.log.Warn().Str("source", source).Str("message", message).Interface("fields", fields).Msg("operational alert")
}

// RecentAlerts returns a copy of the most recent operational alerts.
func (r *Reporter) RecentAlerts() []OperationalAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OperationalAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}

// Status is the full health snapshot served by /api/health.
type Status struct {
	UptimeSeconds float64                       `json:"uptime_seconds"`
	CPUPercent    float64                       `json:"cpu_percent"`
	MemPercent    float64                       `json:"mem_percent"`
	Series        map[string]store.SeriesHealth `json:"series,omitempty"`
	Tasks         []domain.TaskState            `json:"tasks,omitempty"`
	RecentAlerts  []OperationalAlert            `json:"recent_alerts,omitempty"`
}

// Snapshot gathers a full Status. Individual sub-collections degrade to
// empty/zero rather than failing the whole snapshot, since a partial health
// report is strictly more useful than none (mirrors the teacher's
// getSystemStats pattern of falling back to zero on a gopsutil error).
func (r *Reporter) Snapshot() Status {
	cpuPercent := 0.0
	if pcts, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		cpuPercent = pcts[0]
	} else if err != nil {
		r.log.Warn().Err(err).Msg("failed to read cpu percent")
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	} else {
		r.log.Warn().Err(err).Msg("failed to read memory stats")
	}

	status := Status{
		UptimeSeconds: time.Since(r.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		MemPercent:    memPercent,
		RecentAlerts:  r.RecentAlerts(),
	}

	if r.store != nil {
		if series, err := r.store.Health(); err == nil {
			status.Series = series
		} else {
			r.log.Warn().Err(err).Msg("failed to read store health")
		}
	}

	if r.scheduler != nil {
		status.Tasks = r.scheduler.Snapshot()
	}

	return status
}

// Ready reports whether the service is ready to serve traffic: at least one
// series has ever been observed, or the scheduler has not yet had time to
// run (grace period), so a cold start isn't flagged unready forever.
func (r *Reporter) Ready() bool {
	if r.store == nil {
		return true
	}
	series, err := r.store.Health()
	if err != nil {
		return false
	}
	if len(series) == 0 {
		return time.Since(r.startedAt) < 5*time.Minute
	}
	return true
}
