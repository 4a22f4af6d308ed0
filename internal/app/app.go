package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"bodaccwatch/internal/bodacc"
	"bodaccwatch/internal/config"
	"bodaccwatch/internal/notifier"
	"bodaccwatch/internal/observability/status"
	rtsup "bodaccwatch/internal/runtime/supervisor"
	"bodaccwatch/internal/storage"
	"bodaccwatch/internal/task/scheduler"
	"bodaccwatch/internal/watcher"
	logx "bodaccwatch/pkg/logx"
)

// PollJob is the scheduler name of the watcher cycle.
const PollJob = "bodacc.poll"

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	sup *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	src   *bodacc.Client
	notif *notifier.Service
	watch *watcher.Watcher
	sched *scheduler.Service

	status *status.Server // nil unless status.enabled
	last   atomic.Pointer[watcher.Report]
}

type Option func(*options)

type options struct {
	lookup config.LookupFunc
}

// WithLookup replaces the environment lookup used while loading config.
func WithLookup(fn config.LookupFunc) Option {
	return func(o *options) { o.lookup = fn }
}

// NewApp loads the configuration and wires every component. It fails with a
// *config.ConfigError when the configuration is unusable.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetLookup(o.lookup)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a, err := wire(cfg, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	log.Debug("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	return a, nil
}

func wire(cfg *config.Config, log logx.Logger, store storage.Store) (*App, error) {
	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	src := bodacc.New(srcCfg, log.With(logx.String("comp", "bodacc")))

	sink, err := buildSink(cfg, log.With(logx.String("comp", "sink")))
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sink, log.With(logx.String("comp", "notifier")))

	wcfg, err := mapWatcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	watch := watcher.New(wcfg, src, notif, store, log.With(logx.String("comp", "watcher")))

	sched := scheduler.New(scheduler.Config{Timezone: cfg.Watcher.Timezone}, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "app")),
		store: store,
		src:   src,
		notif: notif,
		watch: watch,
		sched: sched,
	}
	if st := cfg.Status; st != nil && st.Enabled {
		a.status = status.New(status.Config{
			Addr:          st.Addr,
			Token:         st.Token,
			AllowInsecure: st.AllowInsecure,
			Pprof:         st.Pprof,
		}, a.statusSnapshot, log.With(logx.String("comp", "status")))
	}
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }

// Notifier exposes the dispatcher, mostly for its delivery history.
func (a *App) Notifier() *notifier.Service { return a.notif }

// RunOnce runs a single cycle outside the scheduler.
func (a *App) RunOnce(ctx context.Context) watcher.Report {
	rep := a.watch.RunCycle(ctx)
	a.last.Store(&rep)
	return rep
}

// StatusAddr is the bound status server address, empty when disabled or not yet listening.
func (a *App) StatusAddr() string {
	if a.status == nil {
		return ""
	}
	return a.status.Addr()
}

// State returns the persisted watcher state.
func (a *App) State(ctx context.Context) *storage.State {
	return a.store.Load(ctx)
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start registers the poll schedule, runs the first cycle right away and
// starts the background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))

	spec, err := pollSchedule(a.cfg)
	if err != nil {
		return err
	}
	if err := a.sched.AddSchedule(PollJob, spec, 0, a.pollJob); err != nil {
		return fmt.Errorf("register %s: %w", PollJob, err)
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go0("cycle.initial", func(c context.Context) {
		if err := a.sched.RunNow(c, PollJob); err != nil && !errors.Is(err, scheduler.ErrBusy) {
			a.log.Warn("initial cycle failed", logx.Err(err))
		}
	})

	if a.cfgm != nil && a.cfgm.Path() != "" {
		a.startConfigReload()
	}
	if a.status != nil {
		a.sup.GoRestart("status.serve", a.status.Serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Int("companies", len(a.cfg.Watcher.Companies)),
		logx.String("schedule", spec),
		logx.String("sink", a.cfg.Sink.Kind),
	)
	return nil
}

func (a *App) pollJob(ctx context.Context) error {
	rep := a.RunOnce(ctx)
	if len(rep.Failed) > 0 {
		names := make([]string, 0, len(rep.Failed))
		for n := range rep.Failed {
			names = append(names, n)
		}
		a.log.Warn("cycle finished with failures", logx.String("cycle", rep.CycleID), logx.Strings("companies", names))
	}
	for _, s := range a.sched.Snapshot().Schedules {
		if s.Name == PollJob && !s.Next.IsZero() {
			a.log.Debug("next cycle", logx.Time("at", s.Next))
		}
	}
	if rep.SaveErr != nil {
		return fmt.Errorf("save state: %w", rep.SaveErr)
	}
	return nil
}

// startConfigReload watches the config file. Only logging is applied live;
// other changes are reported as requiring a restart.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
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
				sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}

				a.logs.Apply(mapLogConfig(newCfg))

				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
				if restart {
					a.log.Warn("config changes outside logging need a restart to take effect")
				}
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))
}

// Stop shuts the app down. An in-flight cycle is canceled; the watcher still
// saves what it confirmed.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 15*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 15*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
