// Package app is the composition root (SPEC_FULL.md §4.10): it owns every
// long-lived component, wires them together from a loaded Config, and
// drives the top-level Run/Shutdown lifecycle the way the teacher's
// cmd/server/main.go + internal/di wire the Sentinel container, collapsed
// into one constructor since this pipeline has a single database rather
// than the teacher's seven.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqryxz/mts-pipeline/internal/aggregator"
	"github.com/sqryxz/mts-pipeline/internal/alert"
	"github.com/sqryxz/mts-pipeline/internal/backup"
	"github.com/sqryxz/mts-pipeline/internal/clock"
	"github.com/sqryxz/mts-pipeline/internal/collector"
	"github.com/sqryxz/mts-pipeline/internal/config"
	"github.com/sqryxz/mts-pipeline/internal/domain"
	"github.com/sqryxz/mts-pipeline/internal/health"
	"github.com/sqryxz/mts-pipeline/internal/httpserver"
	"github.com/sqryxz/mts-pipeline/internal/maintenance"
	"github.com/sqryxz/mts-pipeline/internal/marketdata"
	"github.com/sqryxz/mts-pipeline/internal/notify"
	"github.com/sqryxz/mts-pipeline/internal/ratebudget"
	"github.com/sqryxz/mts-pipeline/internal/runner"
	"github.com/sqryxz/mts-pipeline/internal/scheduler"
	"github.com/sqryxz/mts-pipeline/internal/store"
	"github.com/sqryxz/mts-pipeline/internal/strategy"
)

// alertForwarder implements domain.AlertSink by forwarding to whatever
// *health.Reporter target points to at call time, letting the Scheduler
// hold a stable AlertSink before the Reporter (which needs the Scheduler)
// has been constructed.
type alertForwarder struct {
	target **health.Reporter
}

func (f alertForwarder) RecordOperationalAlert(source, message string, fields map[string]any) {
	if r := *f.target; r != nil {
		r.RecordOperationalAlert(source, message, fields)
	}
}

// Application owns every long-lived component and their startup/shutdown
// ordering. Per REDESIGN FLAGS, nothing here is a package-level global.
type Application struct {
	cfg *config.Config
	log zerolog.Logger

	db           *store.DB
	observations *store.Store
	taskStates   *store.TaskStateRepo

	clk     clock.Clock
	budgets *ratebudget.Manager

	collectors *collector.Registry
	strategies *strategy.Registry

	scheduler   *scheduler.Scheduler
	runner      *runner.Runner
	aggregator  *aggregator.Aggregator
	alerts      *alert.Emitter
	dispatcher  *notify.Dispatcher
	hub         *notify.Hub
	health      *health.Reporter
	httpServer  *httpserver.Server
	maintenance *maintenance.Scheduler

	backupArchiver *backup.Archiver
	backupInterval time.Duration
}

// New wires every component from a loaded, validated Config. It opens the
// database and creates on-disk directories but starts no goroutines or
// listeners — that is Run's job.
func New(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	db, err := store.Open(store.Config{Path: cfg.DataDir + "/observations.db", Profile: store.ProfileLedger})
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	observations, err := store.New(db)
	if err != nil {
		return nil, fmt.Errorf("app: init observation store: %w", err)
	}

	taskStates, err := store.NewTaskStateRepo(db)
	if err != nil {
		return nil, fmt.Errorf("app: init task state repo: %w", err)
	}

	clk := clock.New()

	budgets := ratebudget.NewManager(clk, 10, 60_000)
	for providerID, limit := range cfg.ProviderLimits {
		windowMs := int64(1000)
		if limit.RefillPerSec > 0 {
			windowMs = int64(limit.Capacity * 1000 / limit.RefillPerSec)
		}
		budgets.Configure(providerID, limit.Capacity, windowMs)
	}

	hub := notify.NewHub()

	// healthReporter is filled in once the Scheduler exists (it needs a
	// TaskSnapshotter), but the Scheduler itself needs an AlertSink at
	// construction time. alertForwarder breaks the cycle: the Scheduler gets
	// a stable AlertSink now, and it starts forwarding to the real Reporter
	// the moment target is set below.
	var healthReporter *health.Reporter
	forwarder := alertForwarder{target: &healthReporter}

	a := &Application{
		cfg:            cfg,
		log:            log,
		db:             db,
		observations:   observations,
		taskStates:     taskStates,
		clk:            clk,
		budgets:        budgets,
		collectors:     collector.NewRegistry(),
		strategies:     strategy.NewRegistry(),
		hub:            hub,
		backupInterval: time.Duration(cfg.BackupIntervalMs) * time.Millisecond,
	}

	if err := a.wireStrategies(); err != nil {
		return nil, err
	}
	if err := a.wireCollectors(); err != nil {
		return nil, err
	}

	enabled, err := a.strategies.Enabled(cfg.EnabledStrategies)
	if err != nil {
		return nil, fmt.Errorf("app: resolve enabled strategies: %w", err)
	}
	a.runner = runner.New(runner.Config{Strategies: enabled, Store: observations, NumWorkers: 4, Logger: log})

	a.aggregator = aggregator.New(aggregator.Config{
		Method:              domain.AggregationMethod(cfg.AggregationMethod),
		StrategyWeights:     cfg.StrategyWeights,
		NeutralThreshold:    cfg.NeutralThreshold,
		StrengthBreakpoints: cfg.StrengthBreakpoints,
		MaxPosition:         cfg.MaxPosition,
		BasePosition:        cfg.BasePosition,
	})

	a.alerts, err = alert.New(alert.Config{Dir: cfg.DataDir + "/alerts", EmitThreshold: cfg.EmitThreshold, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("app: init alert emitter: %w", err)
	}

	a.dispatcher = notify.New(notify.Config{QueueCapacity: cfg.QueueCapacity, Channels: a.buildChannels(), Logger: log})

	schedulerTiers := make([]scheduler.Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		schedulerTiers = append(schedulerTiers, scheduler.Tier{Name: t.Name, IntervalMs: t.IntervalMs, TaskIDs: t.TaskIDs, ProviderID: t.ProviderID})
	}
	a.scheduler, err = scheduler.New(scheduler.Config{
		Tiers:             schedulerTiers,
		Registry:          a.collectors,
		States:            taskStates,
		Observations:      observations,
		Budgets:           budgets,
		Clock:             clk,
		MaxBackoffMs:      cfg.MaxBackoffMs,
		InitialBackfillMs: cfg.InitialBackfillMs,
		Alerts:            forwarder,
		Logger:            log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}

	healthReporter = health.New(health.Config{Store: observations, Scheduler: a.scheduler, Logger: log})
	a.health = healthReporter

	a.httpServer = httpserver.New(httpserver.Config{
		Port:     cfg.HTTPPort,
		DevMode:  cfg.DevMode,
		Reporter: a.health,
		Status:   func() any { return a.health.Snapshot() },
		Tasks:    func() any { return a.scheduler.Snapshot() },
		Hub:      hub,
		Logger:   log,
	})

	if cfg.BackupBucket != "" {
		backupClient, err := backup.NewClient(context.Background(), backup.ClientConfig{
			Endpoint:       cfg.BackupEndpoint,
			Region:         cfg.BackupRegion,
			Bucket:         cfg.BackupBucket,
			AccessKey:      cfg.BackupAccessKey,
			SecretKey:      cfg.BackupSecretKey,
			ForcePathStyle: cfg.BackupForcePath,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init backup client: %w", err)
		}
		a.backupArchiver, err = backup.New(backup.Config{
			DB: db, Client: backupClient, StagingDir: cfg.DataDir + "/backup-staging",
			RetentionDays: cfg.BackupRetentionDays, Logger: log,
		})
		if err != nil {
			return nil, fmt.Errorf("app: init backup archiver: %w", err)
		}
	} else {
		log.Warn().Msg("BACKUP_BUCKET not configured, ArchiveBackup disabled")
	}

	a.maintenance, err = maintenance.New(maintenance.Config{DB: db, Tasks: taskStates, CronSpec: cfg.MaintenanceCronSpec, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("app: init maintenance scheduler: %w", err)
	}

	return a, nil
}

// buildChannels turns cfg.Channels into notify.Channel values, grafting in
// the concrete Deliver functions the config layer cannot represent.
func (a *Application) buildChannels() []notify.Channel {
	byID := make(map[string]config.ChannelConfig, len(a.cfg.Channels))
	for _, c := range a.cfg.Channels {
		byID[c.ID] = c
	}

	var channels []notify.Channel
	if c, ok := byID["log"]; ok {
		channels = append(channels, notify.NewLogChannel(a.log, c.MinIntervalMs))
	}
	if c, ok := byID["websocket"]; ok {
		channels = append(channels, notify.NewWebSocketChannel(a.hub, c.MinIntervalMs, c.MaxRetries, c.TimeoutMs))
	}
	return channels
}

// wireStrategies registers the three reference strategies (§4.5) for every
// asset derived from the high_frequency/hourly tiers. The macro series used
// by vix_correlation is the first macro-tier task id, matching this
// deployment's default config (vix_macro first in TIER_MACRO_TASKS).
func (a *Application) wireStrategies() error {
	var macroSeriesID string
	for _, t := range a.cfg.Tiers {
		if t.Name == "macro" && len(t.TaskIDs) > 0 {
			macroSeriesID = t.TaskIDs[0]
			break
		}
	}

	for _, assetID := range a.assetIDs() {
		seriesID := strings.ToLower(assetID) + "_ohlcv"
		if err := a.strategies.Register(strategy.NewMeanReversion(assetID, seriesID, 20, 2.0, 30*24*60*60*1000)); err != nil {
			return err
		}
		if err := a.strategies.Register(strategy.NewVolatilityBreakout(assetID, seriesID, 14, 20, 2.0, 30*24*60*60*1000)); err != nil {
			return err
		}
		if macroSeriesID != "" {
			if err := a.strategies.Register(strategy.NewVixCorrelation(assetID, seriesID, macroSeriesID, 30*24*60*60*1000, 20, -0.5)); err != nil {
				return err
			}
		}
	}
	return nil
}

// wireCollectors registers one marketdata-backed Collector per non-macro,
// non-signal_cycle task id, plus one macro-backed Collector per macro task
// id, plus the signal_cycle pseudo-collector that drives the
// Runner/Aggregator/AlertEmitter/NotificationDispatcher pipeline on its own
// tier cadence instead of fetching external data.
func (a *Application) wireCollectors() error {
	clients := make(map[string]*marketdata.Client)
	clientFor := func(providerID string) *marketdata.Client {
		if c, ok := clients[providerID]; ok {
			return c
		}
		c := marketdata.NewClient("https://"+providerID+".example-provider.invalid", a.log)
		clients[providerID] = c
		return c
	}

	for _, t := range a.cfg.Tiers {
		switch t.Name {
		case "signal_cycle":
			for _, taskID := range t.TaskIDs {
				a.collectors.Register(domain.Collector{
					TaskID: taskID, SeriesID: "", Tier: t.Name, ProviderID: t.ProviderID,
					IntervalMs: t.IntervalMs, Fetch: a.runSignalCycle,
				})
			}
		case "macro":
			client := clientFor(t.ProviderID)
			for _, taskID := range t.TaskIDs {
				a.collectors.Register(domain.Collector{
					TaskID: taskID, SeriesID: taskID, Tier: t.Name, ProviderID: t.ProviderID,
					IntervalMs: t.IntervalMs, Fetch: client.MacroFetch(taskID, strings.ToUpper(taskID)),
				})
			}
		default:
			client := clientFor(t.ProviderID)
			for _, taskID := range t.TaskIDs {
				seriesID := taskID
				symbol := assetIDFromTaskID(taskID)
				a.collectors.Register(domain.Collector{
					TaskID: taskID, SeriesID: seriesID, Tier: t.Name, ProviderID: t.ProviderID,
					IntervalMs: t.IntervalMs, Fetch: client.OHLCVFetch(seriesID, symbol),
				})
			}
		}
	}
	return nil
}

// runSignalCycle is the signal_cycle pseudo-collector's Fetch: it ignores
// the scheduler's supplied time window and instead runs one full
// Runner -> Aggregator -> AlertEmitter -> NotificationDispatcher cycle.
// It reports zero observations, since this task never writes to the
// observation store itself, and returns the Runner's error (a transient
// failure to the Scheduler) when the cycle cannot build its market data.
func (a *Application) runSignalCycle(ctx context.Context, _, tHiMs int64) domain.FetchResult {
	outcomes, err := a.runner.Run(tHiMs)
	if err != nil {
		return domain.FetchResult{Err: err}
	}

	var signals []domain.Signal
	for _, o := range outcomes {
		if o.Err != nil {
			a.health.RecordOperationalAlert("runner", "strategy failed", map[string]any{"strategy_id": o.StrategyID, "error": o.Err.Error()})
			continue
		}
		signals = append(signals, o.Signals...)
	}

	cycleID := fmt.Sprintf("cycle-%d", tHiMs)
	aggregated := a.aggregator.Aggregate(signals, cycleID, tHiMs)

	a.alerts.EmitAll(aggregated)

	for _, sig := range aggregated {
		if !a.dispatcher.Enqueue(ctx, sig) {
			a.health.RecordOperationalAlert("dispatcher", "signal dropped, shutting down", map[string]any{"asset": sig.AssetID})
		}
	}

	return domain.FetchResult{}
}

// assetIDs derives the strategy-bearing asset universe from every
// non-macro, non-signal_cycle tier's task ids (e.g. "btc_ohlcv" -> "BTC").
func (a *Application) assetIDs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range a.cfg.Tiers {
		if t.Name == "macro" || t.Name == "signal_cycle" {
			continue
		}
		for _, taskID := range t.TaskIDs {
			asset := assetIDFromTaskID(taskID)
			if _, ok := seen[asset]; !ok {
				seen[asset] = struct{}{}
				out = append(out, asset)
			}
		}
	}
	return out
}

func assetIDFromTaskID(taskID string) string {
	return strings.ToUpper(strings.TrimSuffix(taskID, "_ohlcv"))
}

// Run starts every background component and blocks until ctx is cancelled,
// then shuts everything down in reverse startup order within a bounded
// grace period, mirroring the teacher's signal-driven shutdown in
// cmd/server/main.go.
func (a *Application) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.dispatcher.Run(runCtx)

	schedulerDone := make(chan error, 1)
	go func() { schedulerDone <- a.scheduler.Run(runCtx) }()

	a.maintenance.Start()

	if a.backupArchiver != nil {
		go a.runBackupLoop(runCtx)
	}

	go func() {
		if err := a.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	a.log.Info().Msg("shutdown signal received, stopping components")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http server forced to shutdown")
	}
	a.maintenance.Stop()
	cancel()

	select {
	case err := <-schedulerDone:
		if err != nil {
			a.log.Error().Err(err).Msg("scheduler stopped with error")
		}
	case <-shutdownCtx.Done():
		a.log.Warn().Msg("scheduler did not stop within grace period")
	}

	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("failed to close database")
	}
	return nil
}

func (a *Application) runBackupLoop(ctx context.Context) {
	interval := a.backupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.backupArchiver.Run(ctx); err != nil {
				a.log.Error().Err(err).Msg("backup cycle failed")
				a.health.RecordOperationalAlert("backup", "backup cycle failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
