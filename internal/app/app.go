// Package app wires the configuration, logging, rate limiting, notification
// and sync components into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pulsesync/internal/cache"
	"pulsesync/internal/config"
	"pulsesync/internal/delivery"
	"pulsesync/internal/history"
	"pulsesync/internal/notify"
	"pulsesync/internal/ratelimit"
	"pulsesync/internal/syncer"
	logx "pulsesync/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	hist  history.Store
	cache cache.Cache

	dispatcher *delivery.Dispatcher

	limiter *ratelimit.Limiter
	sched   *notify.Scheduler
	router  *syncer.Router

	cron *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New loads the config at cfgPath and constructs every component. Nothing
// runs until Start.
func New(cfgPath string, feed syncer.Feed) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	// History store (optional; memory when the section is omitted)
	hcfg, err := mapHistoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(hcfg, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}
	if hist != nil {
		log.Info("history enabled", logx.String("driver", hcfg.Driver))
	}

	// Profile cache
	ccfg, err := mapCacheConfig(cfg)
	if err != nil {
		return nil, err
	}
	profileCache, err := cache.Open(ccfg, log.With(logx.String("comp", "cache")))
	if err != nil {
		return nil, err
	}

	// Outbound delivery: sink behind an async dispatcher
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return nil, err
	}
	sink, err := delivery.Open(dcfg, log.With(logx.String("comp", "delivery")))
	if err != nil {
		return nil, err
	}
	dispatcher := delivery.NewDispatcher(dcfg.Dispatcher, sink, log.With(logx.String("comp", "dispatch")))

	limiter := ratelimit.New(mapQuotas(cfg))

	prefs, err := mapPreferences(cfg)
	if err != nil {
		return nil, err
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var schedHist notify.History
	if hist != nil {
		schedHist = hist
	}
	sched := notify.New(scfg, prefs, dispatcher, schedHist,
		log.With(logx.String("comp", "scheduler")))

	router := syncer.NewRouter(feed, syncer.NewStreams(), profileCache, log.With(logx.String("comp", "syncer")))

	return &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		hist:       hist,
		cache:      profileCache,
		dispatcher: dispatcher,
		limiter:    limiter,
		sched:      sched,
		router:     router,
	}, nil
}

// Limiter exposes the action rate limiter for feature code.
func (a *App) Limiter() *ratelimit.Limiter { return a.limiter }

// Scheduler exposes the notification scheduler for feature code.
func (a *App) Scheduler() *notify.Scheduler { return a.sched }

// Streams exposes the typed change streams feature stores subscribe to.
func (a *App) Streams() *syncer.Streams { return a.router.Streams() }

// History exposes the notification history store (nil when disabled).
func (a *App) History() history.Store { return a.hist }

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)

	a.dispatcher.Start(a.runCtx)

	if err := a.router.Start(); err != nil {
		return err
	}

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		// Reject values that only fail at mapping time (bad HH:MM etc.).
		if _, err := mapPreferences(cfg); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.startHousekeeping(); err != nil {
		return err
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-a.runCtx.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a hot-reloaded config into the running components.
// Validation already happened in the manager's validator hook, so mapping
// errors here only log and keep the previous settings.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	a.limiter.Apply(mapQuotas(cfg))

	prefs, err := mapPreferences(cfg)
	if err != nil {
		a.log.Warn("invalid notification preferences; keeping previous", logx.Err(err))
	} else {
		a.sched.UpdatePreferences(prefs)
	}

	a.log.Info("config reloaded")
}

// startHousekeeping schedules the periodic maintenance job: prune idle
// limiter buckets and, when configured, expire old history entries.
func (a *App) startHousekeeping() error {
	cfg := a.cfgm.Get()

	spec := "*/5 * * * *"
	if cfg != nil && cfg.Housekeeping.PruneSchedule != "" {
		spec = cfg.Housekeeping.PruneSchedule
	}
	var maxAge time.Duration
	if cfg != nil && cfg.Housekeeping.HistoryMaxAge != "" {
		d, err := config.ParseDurationField("housekeeping.history_max_age", cfg.Housekeeping.HistoryMaxAge)
		if err != nil {
			return err
		}
		maxAge = d
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		removed := a.limiter.PruneIdle()
		if removed > 0 {
			a.log.Debug("pruned idle rate buckets", logx.Int("removed", removed))
		}
		if a.hist != nil && maxAge > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := a.hist.Prune(ctx, time.Now().Add(-maxAge))
			cancel()
			if err != nil {
				a.log.Warn("history prune failed", logx.Err(err))
			} else if n > 0 {
				a.log.Debug("pruned history", logx.Int("removed", n))
			}
		}
	})
	if err != nil {
		return fmt.Errorf("housekeeping.prune_schedule: invalid %q: %w", spec, err)
	}
	c.Start()
	a.cron = c
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.runCancel == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.runCancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("cron", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
		case <-c.Done():
		}
		return nil
	})
	step("router", time.Second, func(context.Context) error { a.router.Stop(); return nil })
	step("scheduler", 2*time.Second, func(context.Context) error { a.sched.Close(); return nil })
	step("dispatcher", 3*time.Second, func(c context.Context) error { a.dispatcher.Stop(c); return nil })
	step("history", time.Second, func(context.Context) error {
		if a.hist != nil {
			return a.hist.Close()
		}
		return nil
	})
	step("cache", time.Second, func(context.Context) error {
		if a.cache != nil {
			return a.cache.Close()
		}
		return nil
	})

	// Wait for the config watch/reload goroutines.
	waitDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
