// -----------------------------------------------------------------------
// App - constructs and wires all services
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/catalog"
	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/dispatcher"
	"github.com/ternarybob/inscribo/internal/handlers"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
	"github.com/ternarybob/inscribo/internal/notify"
	"github.com/ternarybob/inscribo/internal/scheduler"
	"github.com/ternarybob/inscribo/internal/services/events"
	"github.com/ternarybob/inscribo/internal/status"
	badgerstorage "github.com/ternarybob/inscribo/internal/storage/badger"
	"github.com/ternarybob/inscribo/internal/submitter"
)

// App holds all initialized services and handlers.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage   *badgerstorage.Manager
	Catalog   *catalog.Catalog
	Events    interfaces.EventService
	Reporter  *status.Reporter
	Scheduler *scheduler.Scheduler
	Dispatch  *dispatcher.Dispatcher
	Submitter *submitter.ChromeSubmitter
	Outbox    *notify.Outbox
	Notify    *notify.Service

	EntryHandler     *handlers.EntryHandler
	APIHandler       *handlers.APIHandler
	WebSocketHandler *handlers.WebSocketHandler

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New wires the full service graph from config. Construction order
// matters: storage first, then the catalog and event bus, then everything
// that depends on them.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badgerstorage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cat, err := catalog.Load(cfg.Catalog.Dir, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to load directory catalog: %w", err)
	}

	clock := common.NewClock()
	eventService := events.NewService(logger)
	reporter := status.New(eventService, clock, logger)

	chromeSubmitter := submitter.NewChromeSubmitter(&cfg.Submitter, logger)

	attemptTimeout, err := time.ParseDuration(cfg.Submitter.AttemptTimeout)
	if err != nil {
		attemptTimeout = 60 * time.Second
	}

	dispatch := dispatcher.New(
		storage.EntryStore(),
		storage.StatsStore(),
		cat,
		chromeSubmitter,
		reporter,
		&cfg.Queue,
		attemptTimeout,
		clock,
		logger,
	)

	sched := scheduler.New(storage.EntryStore(), cfg.TierPolicies(), &cfg.Queue, clock, logger)

	// The outbox delivers through SMTP when configured, otherwise straight
	// to the log.
	var notifier interfaces.Notifier
	mailer := notify.NewMailer(&cfg.Notify, logger)
	if cfg.Notify.SMTPEnabled && mailer.IsConfigured() {
		notifier = mailer
	} else {
		notifier = notify.NewLogNotifier(logger)
	}
	outbox := notify.NewOutbox(storage.DB().Store().Badger(), notifier, logger)

	notifyService := notify.NewService(eventService, outbox, &cfg.Notify, logger)
	if err := notifyService.Register(); err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to register notify service: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Storage:   storage,
		Catalog:   cat,
		Events:    eventService,
		Reporter:  reporter,
		Scheduler: sched,
		Dispatch:  dispatch,
		Submitter: chromeSubmitter,
		Outbox:    outbox,
		Notify:    notifyService,

		EntryHandler:     handlers.NewEntryHandler(storage.EntryStore(), reporter, logger),
		APIHandler:       handlers.NewAPIHandler(storage.EntryStore(), cat, logger),
		WebSocketHandler: handlers.NewWebSocketHandler(eventService, logger, &cfg.WebSocket),

		cron: cron.New(),
	}

	logger.Info().
		Int("directories", cat.Len()).
		Str("data_dir", cfg.Storage.Badger.Path).
		Msg("Application initialized")

	return a, nil
}

// Start launches the background loops: browser, scheduler, outbox and the
// maintenance cron.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Submitter.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start submitter: %w", err)
	}

	common.SafeGo(a.Logger, "scheduler", func() {
		a.Scheduler.Start(runCtx, a.Dispatch)
	})
	common.SafeGo(a.Logger, "notify-outbox", func() {
		a.Outbox.Start(runCtx)
	})

	schedule := a.Config.Queue.StaleSweepSchedule
	if schedule != "" {
		if _, err := a.cron.AddFunc(schedule, a.maintenanceSweep); err != nil {
			a.Logger.Warn().Err(err).
				Str("schedule", schedule).
				Msg("Invalid maintenance sweep schedule - sweep disabled")
		} else {
			a.cron.Start()
		}
	}

	a.Logger.Info().Msg("Background services started")
	return nil
}

// maintenanceSweep flags long-running claims and reclaims Badger value-log
// space. Stale claims are reported, never reassigned: an entry has exactly
// one owning run for its lifetime, and recovery is an operator call.
func (a *App) maintenanceSweep() {
	ctx := context.Background()

	processing, err := a.Storage.EntryStore().ListEntries(ctx, &interfaces.EntryListOptions{
		Status: models.EntryStatusProcessing,
	})
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Maintenance sweep failed to list in-flight entries")
	} else {
		threshold := time.Now().Add(-2 * time.Hour)
		for _, entry := range processing {
			if entry.StartedAt != nil && entry.StartedAt.Before(threshold) {
				a.Logger.Warn().
					Str("entry_id", entry.ID).
					Str("run_id", entry.AssignedRunID).
					Str("started_at", entry.StartedAt.Format(time.RFC3339)).
					Msg("Entry processing longer than expected")
			}
		}
	}

	// Badger reclaims space one value-log file per call; loop until it
	// reports nothing left to do.
	db := a.Storage.DB().Store().Badger()
	for {
		if err := db.RunValueLogGC(0.5); err != nil {
			break
		}
	}
}

// Close shuts down background work and releases resources.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}

	a.cron.Stop()
	a.Dispatch.Wait()
	a.Submitter.Stop()

	if err := a.Events.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}

	a.Logger.Info().Msg("Application stopped")
}
