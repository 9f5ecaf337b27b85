// Package app wires the notification pipeline together and owns
// startup/shutdown ordering.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"carelink/internal/config"
	"carelink/internal/dispatch"
	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/queue"
	"carelink/internal/realtime"
	"carelink/internal/reminder"
	"carelink/internal/runtime/supervisor"
	"carelink/internal/scheduler"
	"carelink/internal/storage"
	"carelink/pkg/logx"
)

// Options carries the external collaborators the pipeline does not own:
// the data sources backed by the web app's ORM layer and the session
// validator. Nil sources simply make the corresponding sweep a no-op.
type Options struct {
	ConfigPath string

	Shifts    reminder.ShiftSource
	Visits    reminder.VisitSource
	Inventory reminder.InventorySource
	Authorize realtime.AuthFunc
}

type App struct {
	opts   Options
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	sup        *supervisor.Supervisor
	bus        eventbus.Bus
	store      storage.Store
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	reminders  *reminder.Service
	sched      *scheduler.Scheduler
	hub        *realtime.Hub
	httpSrv    *http.Server
}

// New loads configuration and initializes logging. Everything else is
// built in Start so long-lived components observe the run context.
func New(opts Options) (*App, error) {
	mgr := config.NewManager(opts.ConfigPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		opts:   opts,
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
	}, nil
}

// Start brings the pipeline up: storage, dispatch, queue consumer,
// scheduled sweeps, the realtime hub, and the config watcher.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))
	a.bus = eventbus.New()

	if err := a.openStorage(cfg); err != nil {
		// The delivery log is an aid, not a dependency.
		a.log.Warn("delivery log unavailable, continuing without it", logx.Err(err))
	}

	a.dispatcher = dispatch.New(
		dispatch.Config{
			Mode:       dispatch.ParseMode(cfg.Dispatch.Mode),
			PreviewLen: cfg.Dispatch.PreviewLen,
			RatePerSec: cfg.Dispatch.RatePerSec,
		},
		map[notify.Kind]dispatch.Provider{
			notify.KindSMS: dispatch.NewSMSProvider(dispatch.SMSConfig{
				Account:  cfg.Dispatch.SMS.Account,
				Token:    cfg.Dispatch.SMS.Token,
				Endpoint: cfg.Dispatch.SMS.Endpoint,
				From:     cfg.Dispatch.SMS.From,
			}),
			notify.KindEmail: dispatch.NewEmailProvider(dispatch.EmailConfig{
				Host:     cfg.Dispatch.Email.Host,
				Port:     cfg.Dispatch.Email.Port,
				Username: cfg.Dispatch.Email.Username,
				Password: cfg.Dispatch.Email.Password,
				From:     cfg.Dispatch.Email.From,
			}),
		},
		a.log.With(logx.String("comp", "dispatch")),
		a.store,
		a.bus,
	)
	a.log.Info("dispatcher ready",
		logx.String("mode", string(a.dispatcher.Mode())),
		logx.Bool("delivery_log", a.store != nil))

	readBlock, err := config.ParseDuration("queue.read_block", cfg.Queue.ReadBlock, 5*time.Second)
	if err != nil {
		a.log.Warn("bad queue.read_block, using default", logx.Err(err))
	}
	a.queue = queue.New(a.sup.Context(), queue.Config{
		Address:   cfg.Queue.Address,
		Password:  cfg.Queue.Password,
		DB:        cfg.Queue.DB,
		Stream:    cfg.Queue.Stream,
		ReadBlock: readBlock,
	}, a.log.With(logx.String("comp", "queue")), a.bus)
	a.queue.Start(a.sup, func(ctx context.Context, env notify.Envelope) error {
		_, err := a.dispatcher.Send(ctx, env)
		return err
	})

	a.reminders = reminder.New(
		a.reminderConfig(cfg),
		a.opts.Shifts, a.opts.Visits, a.opts.Inventory,
		a.queue, a.dispatcher,
		a.log.With(logx.String("comp", "reminder")),
	)

	if err := a.startScheduler(ctx, cfg); err != nil {
		return err
	}
	a.startRealtime(cfg)
	a.startConfigWatch()

	a.log.Info("notification pipeline started")
	return nil
}

func (a *App) openStorage(cfg *config.Config) error {
	busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *App) reminderConfig(cfg *config.Config) reminder.Config {
	window, err := config.ParseDuration("reminders.reminder_window", cfg.Reminders.ReminderWindow, 24*time.Hour)
	if err != nil {
		a.log.Warn("bad reminders.reminder_window, using default", logx.Err(err))
	}
	invWindow, err := config.ParseDuration("reminders.inventory_window", cfg.Reminders.InventoryWindow, 7*24*time.Hour)
	if err != nil {
		a.log.Warn("bad reminders.inventory_window, using default", logx.Err(err))
	}
	return reminder.Config{
		ReminderWindow:   window,
		InventoryWindow:  invWindow,
		CoordinatorEmail: cfg.Reminders.CoordinatorEmail,
	}
}

func (a *App) startScheduler(ctx context.Context, cfg *config.Config) error {
	a.sched = scheduler.New(a.log.With(logx.String("comp", "scheduler")))

	tasks := []struct {
		name string
		tc   config.TaskConfig
		run  func(context.Context) error
	}{
		{"inventory-check", cfg.Scheduler.InventoryCheck, a.reminders.SweepInventory},
		{"reminder-emails", cfg.Scheduler.ReminderEmails, a.reminders.SweepReminders},
	}
	for _, t := range tasks {
		interval, err := config.ParseDuration(t.name+".interval", t.tc.Interval, 0)
		if err != nil {
			a.log.Warn("bad task interval, scheduler will use its default",
				logx.String("task", t.name), logx.Err(err))
		}
		if err := a.sched.Register(scheduler.Task{
			Name:       t.name,
			Enabled:    t.tc.Enabled,
			Interval:   interval,
			RunAtStart: t.tc.RunAtStart,
			Run:        t.run,
		}); err != nil {
			return fmt.Errorf("register task %s: %w", t.name, err)
		}
	}
	a.sched.Start(ctx)
	return nil
}

func (a *App) startRealtime(cfg *config.Config) {
	if cfg.Realtime.Addr == "" {
		a.log.Info("realtime hub disabled, no listen address")
		return
	}
	path := cfg.Realtime.Path
	if path == "" {
		path = "/ws"
	}

	a.hub = realtime.NewHub(realtime.HubConfig{}, a.opts.Authorize, a.bus,
		a.log.With(logx.String("comp", "realtime")))
	a.hub.Start(a.sup.Context())

	mux := http.NewServeMux()
	mux.Handle(path, a.hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/api/deliveries", a.handleRecentDeliveries)

	a.httpSrv = &http.Server{
		Addr:              cfg.Realtime.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.sup.Go("realtime-http", func(ctx context.Context) error {
		err := a.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	a.log.Info("realtime hub listening",
		logx.String("addr", cfg.Realtime.Addr),
		logx.String("path", path))
}

func (a *App) handleRecentDeliveries(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "delivery log disabled", http.StatusNotFound)
		return
	}
	entries, err := a.store.RecentDeliveries(r.Context(), 100)
	if err != nil {
		http.Error(w, "delivery log read failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// startConfigWatch hot-reloads the logging section. Delivery mode and
// the queue backend deliberately stay fixed until restart.
func (a *App) startConfigWatch() {
	updates := a.cfgMgr.Subscribe(1)
	a.sup.Go0("config-reload", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.logSvc.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				a.log.Info("logging configuration reloaded",
					logx.String("level", cfg.Logging.Level))
			}
		}
	})
	a.sup.GoRestart("config-watch", a.cfgMgr.Watch,
		supervisor.WithFixedRestartDelay(time.Second))
}

// ClientConfig builds connection-manager settings for an embedded
// realtime client (admin dashboards, smoke tools) from the same config
// file the hub reads.
func (a *App) ClientConfig() realtime.ClientConfig {
	cfg := a.cfgMgr.Get()
	path := cfg.Realtime.Path
	if path == "" {
		path = "/ws"
	}
	out := realtime.ClientConfig{
		URL:         "ws://" + cfg.Realtime.Addr + path,
		MaxAttempts: cfg.Realtime.MaxAttempts,
	}
	durs := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"realtime.keepalive", cfg.Realtime.Keepalive, &out.Keepalive},
		{"realtime.base_delay", cfg.Realtime.BaseDelay, &out.BaseDelay},
		{"realtime.abnormal_delay", cfg.Realtime.AbnormalDelay, &out.AbnormalDelay},
		{"realtime.cooldown", cfg.Realtime.Cooldown, &out.Cooldown},
	}
	for _, d := range durs {
		v, err := config.ParseDuration(d.name, d.raw, 0)
		if err != nil {
			a.log.Warn("bad realtime duration, using default", logx.String("key", d.name), logx.Err(err))
			continue
		}
		*d.dst = v
	}
	return out
}

// Reminders exposes the notification service to the web app's request
// handlers (the send-now confirmation path).
func (a *App) Reminders() *reminder.Service { return a.reminders }

// DeliveryLog exposes the recent-history store; nil when disabled.
func (a *App) DeliveryLog() storage.Store { return a.store }

// Stop shuts the pipeline down in reverse order of startup. It is
// bounded by ctx; components that overrun are abandoned with a warning.
func (a *App) Stop(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Stop(ctx)
	}
	if a.httpSrv != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
		cancel()
	}
	if a.hub != nil {
		a.hub.Close()
	}

	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.log.Info("notification pipeline stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return errors.Join(errs...)
}
