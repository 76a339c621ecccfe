package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm    *config.ConfigManager
	started time.Time

	// settings changes on config reload.
	settingsMu sync.RWMutex
	settings   config.Settings

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter transport.Adapter
	notif   *notifier.Service
	handler *Handler
	sched   *scheduler.Service
	metrics *Metrics
	http    *HTTPServer
}

// NewApp loads the config at cfgPath (empty means environment only) and
// wires every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	s, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	adapter, err := NewAdapter(cfg, s, bootLog.With(logx.String("comp", s.Platform)))
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, so the logging service comes second.
	logSvc, log := logx.New(logConfig(cfg), adapter)
	appLog := log.With(logx.String("comp", "app"))

	store, err := OpenStore(s, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	resolver, err := NewResolver(cfg, s, log)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	metrics := NewMetrics(bus)
	notif := notifier.New(notifierConfig(s), adapter, log)
	handler := NewHandler(HandlerDeps{
		Resolver:   resolver,
		Store:      store,
		Bus:        bus,
		Location:   s.Location,
		MaxPending: s.MaxPendingPerOwner,
		Observer:   metrics,
		Logger:     log,
	})
	disp := reminder.NewDispatcher(store, notif,
		reminder.WithDispatchLogger(log.With(logx.String("comp", "dispatch"))),
		reminder.WithEventBus(bus),
	)

	sched := scheduler.New(s.Location, log)
	loc := s.Location
	err = sched.AddInterval(DispatchJob, s.PollInterval, 0, func(ctx context.Context) error {
		rep := disp.RunTick(ctx, time.Now().In(loc))
		return rep.ScanErr
	})
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		settings: s,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  adapter,
		notif:    notif,
		handler:  handler,
		sched:    sched,
		metrics:  metrics,
	}
	if s.HTTPEnabled {
		a.http = NewHTTPServer(s.HTTPAddr, log)
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// HTTPAddr is the bound HTTP address, or "" when the server is off.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		s, err := cfg.Settings()
		if err != nil {
			return err
		}
		if cur := a.currentSettings().Platform; s.Platform != cur {
			return fmt.Errorf("platform cannot change at runtime (%s -> %s)", cur, s.Platform)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.handler.Reply); err != nil {
		return err
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("adapter.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, menuCommands); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("metrics.events", func(c context.Context) {
		defer unsub()
		a.metrics.Consume(c, events)
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	// Catch up on anything that came due while the process was down.
	a.sup.Go0("dispatch.catchup", func(c context.Context) {
		_ = a.sched.RunNow(DispatchJob)
	})

	s := a.currentSettings()
	if a.http != nil {
		r := NewRouter(HTTPDeps{
			Platform: s.Platform,
			Handler:  a.handler,
			Replier:  a.adapter,
			Store:    a.store,
			Metrics:  a.metrics,
			Health:   a.Health,
			Pprof:    pprofConfig(a.cfgm.Get()),
			Logger:   a.log,
		})
		if err := a.http.Start(a.sup, r); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("platform", s.Platform),
		logx.String("tz", s.Location.String()),
		logx.Duration("poll_interval", s.PollInterval),
		logx.Bool("semantic", s.SemanticEnabled),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if need := config.RestartRequired(sections); len(need) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(need, ",")))
	}

	s, err := newCfg.Settings()
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	a.logs.Apply(logConfig(newCfg))
	a.notif.Apply(notifierConfig(s))
	a.handler.SetMaxPending(s.MaxPendingPerOwner)
	cur := a.currentSettings()
	if s.PollInterval != cur.PollInterval {
		if err := a.sched.SetInterval(DispatchJob, s.PollInterval); err != nil {
			a.log.Warn("poll interval update failed", logx.Err(err))
		}
	}
	if s.Location.String() != cur.Location.String() {
		a.log.Warn("timezone change needs a restart", logx.String("tz", s.Location.String()))
		s.Location = cur.Location
	}
	// Fields that need a restart keep reporting the running values.
	s.Platform, s.HTTPEnabled, s.HTTPAddr = cur.Platform, cur.HTTPEnabled, cur.HTTPAddr
	s.StorageDriver, s.StoragePath, s.SemanticEnabled = cur.StorageDriver, cur.StoragePath, cur.SemanticEnabled
	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) currentSettings() config.Settings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	return a.settings
}

// Health reports component state for /health.
func (a *App) Health(ctx context.Context) Health {
	s := a.currentSettings()
	h := Health{
		Status:    "ok",
		Platform:  s.Platform,
		Timezone:  s.Location.String(),
		Uptime:    time.Since(a.started).Round(time.Second).String(),
		Storage:   "ok",
		Semantic:  s.SemanticEnabled,
		Scheduler: a.sched.Snapshot(),
		Recent:    a.notif.History(),
	}
	if a.sup != nil {
		h.Supervisor = a.sup.Snapshot()
		if err := a.sup.Err(); err != nil {
			h.Status = "degraded"
		}
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.Ping(pctx); err != nil {
		h.Status = "degraded"
		h.Storage = err.Error()
	}
	return h
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.http != nil {
		step("http", 3*time.Second, a.http.Stop)
	}
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
