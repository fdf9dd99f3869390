package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/etecture/generic-import-connector/internal/config"
	"github.com/etecture/generic-import-connector/internal/connector"
	"github.com/etecture/generic-import-connector/internal/eventbus"
	"github.com/etecture/generic-import-connector/internal/fileagent"
	"github.com/etecture/generic-import-connector/internal/importer"
	"github.com/etecture/generic-import-connector/internal/observability/diag"
	"github.com/etecture/generic-import-connector/internal/runtime/supervisor"
	"github.com/etecture/generic-import-connector/internal/storage"
	"github.com/etecture/generic-import-connector/internal/task/engine"
	"github.com/etecture/generic-import-connector/internal/task/scheduler"
	logx "github.com/etecture/generic-import-connector/pkg/logx"
	"github.com/spf13/afero"
)

// App owns the connector runtime: config, engine, scheduler, endpoints,
// storage and the diagnostics server.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	timers scheduler.Timers
	disp   *importer.Dispatcher
	conn   *connector.Connector
	diag   *diag.Service

	history  *historyRecorder
	stopOnce sync.Once
}

// Options replace the OS-backed defaults, mostly for tests.
type Options struct {
	Fs     afero.Fs
	Timers scheduler.Timers
}

func NewApp(cfgPath string) (*App, error) {
	return NewAppWithOptions(cfgPath, Options{})
}

func NewAppWithOptions(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.Comp("app"))
	if opts.Timers == nil {
		opts.Timers = scheduler.NewSystemTimers(log.With(logx.Comp("scheduler")))
	}

	bus := eventbus.New()
	// Records at or above logging.events.min_level reach the history.
	logSvc.SetPublisher(func(r logx.Record) {
		bus.Publish(eventbus.Event{Type: eventbus.TopicLogRecord, Time: r.Time, Data: r})
	})

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.Comp("taskengine")), bus)

	schedSvc, err := scheduler.New(mapSchedulerConfig(cfg), opts.Timers, engineSvc, log.With(logx.Comp("scheduler")), bus)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	disp, err := importer.NewDispatcher(opts.Fs, importer.DefaultRegistry(), engineSvc,
		importer.WithLogger(log.With(logx.Comp("importer"))),
		importer.WithBus(bus),
	)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	connOpts := connector.Options{
		Scheduler:  schedSvc,
		Dispatcher: disp,
		Lister:     fileagent.FSLister{Fs: opts.Fs},
		Log:        log.With(logx.Comp("connector")),
		Bus:        bus,
	}
	if store != nil {
		connOpts.Dedup = store
	}
	conn, err := connector.New(connOpts)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	diagCfg, err := mapDiagnosticsConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		engine:  engineSvc,
		sched:   schedSvc,
		timers:  opts.Timers,
		disp:    disp,
		conn:    conn,
	}
	a.diag = diag.New(diagCfg, a.diagSources(), log.With(logx.Comp("diag")))
	return a, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
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

func (a *App) Connector() *connector.Connector { return a.conn }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return validateConfig(cfg)
	})

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if a.store != nil {
		a.history = startHistoryRecorder(a.bus, a.store, a.log.With(logx.Comp("history")))
	}
	a.startEventLog()

	specs, err := mapImportSpecs(a.cfgm.Get())
	if err != nil {
		return err
	}
	if err := a.conn.Reconcile(specs); err != nil {
		// Endpoints that failed stay inactive; the rest run.
		a.log.Warn("some imports could not be activated", logx.Err(err))
	}

	if a.diag.Enabled() {
		a.diag.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				newCfg = latest(sub, newCfg)
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("imports", len(a.conn.Statuses())))
	return nil
}

// latest drains queued configs so a burst of saves is applied once.
func latest(sub chan *Config, cfg *Config) *Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

// startEventLog mirrors bus traffic at debug level.
func (a *App) startEventLog() {
	if !a.log.Enabled(logx.LevelDebug) {
		return
	}
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type == eventbus.TopicLogRecord {
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *Config) {
	sections, attrs, importsChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "task_engine":
			engCfg, err := mapTaskEngineConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
				continue
			}
			a.engine.Apply(ctx, engCfg)
		case "diagnostics":
			dc, err := mapDiagnosticsConfig(newCfg)
			if err != nil {
				a.log.Warn("invalid diagnostics config; keeping previous", logx.Err(err))
				continue
			}
			a.diag.Reconfigure(a.sup.Context(), dc)
		case "scheduler", "storage":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case "imports":
			specs, err := mapImportSpecs(newCfg)
			if err != nil {
				a.log.Warn("invalid imports config; keeping previous", logx.Err(err))
				continue
			}
			if err := a.conn.Reconcile(specs); err != nil {
				a.log.Warn("some imports could not be activated", logx.Err(err))
			}
			a.log.Debug("imports changed", logx.Any("imports", importsChanged))
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Data: sections})
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Background loops start unwinding right away.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStopStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// No new fires, then let running imports finish, then flush history.
	step("diagnostics", 2*time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("connector", time.Second, func(context.Context) error { a.conn.Stop(); return nil })
	step("scheduler", time.Second, func(context.Context) error {
		a.sched.CancelAll()
		if st, ok := a.timers.(interface{ Stop() }); ok {
			st.Stop()
		}
		return nil
	})
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("history", 2*time.Second, func(c context.Context) error {
		if a.history != nil {
			return a.history.Close(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// runStopStep bounds one shutdown step so a stuck component cannot stall
// the whole stop. The caller's deadline is never extended.
func (a *App) runStopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return err
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
		return stepCtx.Err()
	}
}
