// Package app wires the services together and owns their lifecycle for
// one account process.
package app

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"

	"blastbot/internal/commands"
	"blastbot/internal/config"
	"blastbot/internal/report"
	"blastbot/internal/spam"
	"blastbot/internal/storage"
	"blastbot/internal/transport"
	"blastbot/internal/transport/telegram"
	"blastbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    storage.Store
	adapter  *telegram.Adapter
	reporter *report.Reporter
	svc      *spam.Service
	router   *commands.Router

	updates chan transport.Message
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        filepath.Join(dataDir, cfg.Account, "blastbot.db"),
		BusyTimeout: busy,
	}, log.With(logx.String("svc", "storage")))
	if err != nil {
		return nil, err
	}

	poll, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	reporter := report.New(adapter, cfg.Report.RatePerSec, log.With(logx.String("svc", "report")))
	svc := spam.New(store, adapter, reporter, log.With(logx.String("svc", "spam")))
	router := commands.NewRouter(svc, store, adapter, reporter,
		cfg.Telegram.OwnerUserIDs, log.With(logx.String("svc", "commands")))

	a := &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    store,
		adapter:  adapter,
		reporter: reporter,
		svc:      svc,
		router:   router,
	}

	// Only the logging section is hot-applied; everything else needs a
	// restart.
	mgr.OnChange(func(c *config.Config) {
		logSvc.Apply(logx.Config{
			Level:   c.Logging.Level,
			Console: c.Logging.Console,
			File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		})
	})

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	// Account bootstrap: the report destination is a persisted setting.
	if raw, err := a.store.GetConfig(ctx, report.ConfigKeyLogChat, ""); err == nil && raw != "" {
		if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			a.reporter.SetTarget(chatID)
		}
	}
	a.reporter.Start(ctx)

	a.updates = make(chan transport.Message, 256)
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-a.updates:
				a.router.Handle(ctx, msg)
			}
		}
	}()

	if err := a.svc.Start(ctx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("started", logx.String("account", a.cfgMgr.Get().Account))
	a.reporter.Report("✅ blastbot started\n💡 Send !help for commands\n⚙️ Use !setlog in another chat to move reports")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	err := a.adapter.Stop(ctx)
	a.svc.Stop(ctx)
	a.reporter.Stop()
	a.wg.Wait()
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	_ = a.logSvc.Close()
	a.log.Info("stopped")
	return err
}
