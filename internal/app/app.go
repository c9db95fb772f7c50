// Package app wires the pieces together: config, logging, profiles,
// schedules, execution, persistence and notifications.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"prestic/internal/config"
	"prestic/internal/eventbus"
	"prestic/internal/notify"
	"prestic/internal/plan"
	"prestic/internal/profile"
	"prestic/internal/runner"
	rtsup "prestic/internal/runtime/supervisor"
	"prestic/internal/schedule"
	"prestic/internal/secret"
	"prestic/internal/storage"
	logx "prestic/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store
	notif *notify.Service
	run   *runner.Runner

	clock     schedule.Clock
	tick      time.Duration
	runLogDir string

	// mu guards the parts swapped on config reload.
	mu       sync.RWMutex
	resolver *profile.Resolver
	sched    *schedule.Scheduler

	sup *rtsup.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Settings.Logging.Logx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	var store storage.Store
	if sc := cfg.Settings.Storage; sc != nil {
		scfg, err := mapStorageConfig(sc)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(scfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if store != nil {
			log.Info("storage enabled", logx.String("driver", scfg.Driver))
		}
	}

	notif, err := buildNotifier(cfg.Settings.Notify, log)
	if err != nil {
		return nil, err
	}

	tick, err := cfg.Settings.Service.TickDuration()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		bus:       bus,
		store:     store,
		notif:     notif,
		run:       runner.New(log.With(logx.String("comp", "runner")), bus),
		clock:     schedule.SystemClock(),
		tick:      tick,
		runLogDir: cfg.Settings.Service.RunLogDir,
	}
	a.sched = schedule.New(a.clock, log.With(logx.String("comp", "schedule")))

	if err := a.applyProfiles(cfg); err != nil {
		return nil, err
	}
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		_ = ctx
		return validateConfig(cfg)
	})
	return a, nil
}

func (a *App) Logger() logx.Logger    { return a.log }
func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) Resolver() *profile.Resolver {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resolver
}

// Close releases resources. It does not stop a running Serve loop; cancel
// its context first.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	if a.logs != nil {
		if cerr := a.logs.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func mapStorageConfig(sc *config.StorageSettings) (storage.Config, error) {
	busy, err := config.ParseDurationField("settings.storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, nil
}

func buildNotifier(ns *config.NotifySettings, log logx.Logger) (*notify.Service, error) {
	if ns == nil {
		return notify.New(notify.Config{}, log), nil
	}
	window, err := config.ParseDurationField("settings.notify.dedup_window", ns.DedupWindow)
	if err != nil {
		return nil, err
	}

	sinks := []notify.Sink{notify.NewLogSink(log.With(logx.String("comp", "notify")))}
	if ns.Telegram != nil {
		tg, err := notify.NewTelegramSink(ns.Telegram.Token, ns.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("settings.notify.telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}

	cfg := notify.Config{
		Enabled:     ns.Enabled,
		Workers:     ns.Workers,
		QueueSize:   ns.QueueSize,
		RatePerSec:  ns.RatePerSec,
		DedupWindow: window,
		OnSuccess:   ns.OnSuccess,
	}
	return notify.New(cfg, log, sinks...), nil
}

// applyProfiles swaps in a fresh resolver and reconciles the scheduler
// with the given config. A broken profile is logged and skipped, never
// fatal: the remaining profiles stay usable, and a profile with a
// malformed schedule stays loaded but is never scheduled. Last-run
// markers come from storage so restarts do not replay recent backups.
func (a *App) applyProfiles(cfg *config.Config) error {
	store, err := cfg.Store()
	if err != nil {
		return err
	}
	resolver := profile.NewResolver(store)

	type timed struct {
		name string
		spec *schedule.Spec
	}
	var scheduled []timed
	usesKeyring := false
	for _, name := range store.Names() {
		eff, err := resolver.Resolve(name)
		if err != nil {
			a.log.Error("profile unusable", logx.String("profile", name), logx.Err(err))
			continue
		}
		if eff.Keyring != "" {
			usesKeyring = true
		}
		if eff.Schedule == "" {
			continue
		}
		spec, err := schedule.Parse(eff.Schedule)
		if err != nil {
			a.log.Error("profile not scheduled", logx.String("profile", name), logx.Err(err))
			continue
		}
		if !eff.Runnable() {
			a.log.Error("profile not scheduled: no runnable command", logx.String("profile", name))
			continue
		}
		scheduled = append(scheduled, timed{name: name, spec: spec})
	}
	if usesKeyring && !secret.Available() {
		a.log.Warn("profiles use password-keyring but no keyring helper is on PATH")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolver = resolver
	keep := make(map[string]bool, len(scheduled))
	for _, s := range scheduled {
		keep[s.name] = true
		var lastRun time.Time
		if a.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if at, ok, err := a.store.LastRun(ctx, s.name); err == nil && ok {
				lastRun = at
			}
			cancel()
		}
		a.sched.Add(s.name, s.spec, lastRun)
	}
	a.sched.Prune(keep)
	a.log.Info("profiles loaded",
		logx.Int("profiles", len(store.Names())),
		logx.Int("scheduled", len(scheduled)))
	return nil
}

// validateConfig dry-runs everything a reload would apply so a broken
// file never replaces a working one.
func validateConfig(cfg *config.Config) error {
	if _, err := cfg.Settings.Service.TickDuration(); err != nil {
		return err
	}
	if _, err := cfg.Settings.Service.Location(); err != nil {
		return fmt.Errorf("settings.service.timezone: %w", err)
	}
	if sc := cfg.Settings.Storage; sc != nil {
		if _, err := mapStorageConfig(sc); err != nil {
			return err
		}
	}
	if ns := cfg.Settings.Notify; ns != nil {
		if _, err := config.ParseDurationField("settings.notify.dedup_window", ns.DedupWindow); err != nil {
			return err
		}
	}

	store, err := cfg.Store()
	if err != nil {
		return err
	}
	resolver := profile.NewResolver(store)
	for _, name := range store.Names() {
		eff, err := resolver.Resolve(name)
		if err != nil {
			return err
		}
		if eff.Schedule == "" {
			continue
		}
		if _, err := schedule.Parse(eff.Schedule); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
		if !eff.Runnable() {
			return fmt.Errorf("profile %q has a schedule but no runnable command", name)
		}
	}
	return nil
}

// execute resolves, plans and runs one profile. extra receives the live
// output stream in addition to the per-run log file.
func (a *App) execute(ctx context.Context, name, overrideCmd string, overrideArgs []string, extra io.Writer) (runner.Result, error) {
	a.mu.RLock()
	resolver := a.resolver
	a.mu.RUnlock()

	eff, err := resolver.Resolve(name)
	if err != nil {
		return runner.Result{}, err
	}
	p, err := plan.Build(eff, overrideCmd, overrideArgs)
	if err != nil {
		return runner.Result{}, err
	}

	live, closeLog := a.openRunLog(name, extra)
	started := time.Now()
	res := a.run.Execute(ctx, p, live)
	closeLog()

	a.recordRun(p, started, res)
	return res, nil
}

func (a *App) openRunLog(name string, extra io.Writer) (io.Writer, func()) {
	if a.runLogDir == "" {
		return extra, func() {}
	}
	if err := os.MkdirAll(a.runLogDir, 0o755); err != nil {
		a.log.Warn("run log dir unavailable", logx.String("dir", a.runLogDir), logx.Err(err))
		return extra, func() {}
	}
	path := filepath.Join(a.runLogDir, fmt.Sprintf("%s-%s.log", name, time.Now().Format("20060102-150405")))
	f, err := os.Create(path)
	if err != nil {
		a.log.Warn("run log unavailable", logx.String("path", path), logx.Err(err))
		return extra, func() {}
	}
	if extra == nil {
		return f, func() { _ = f.Close() }
	}
	return io.MultiWriter(extra, f), func() { _ = f.Close() }
}

func (a *App) recordRun(p *plan.Plan, started time.Time, res runner.Result) {
	if a.store == nil {
		return
	}
	rec := storage.RunRecord{
		Profile:     p.Profile,
		Command:     p.Command,
		StartedAt:   started,
		FinishedAt:  started.Add(res.Duration),
		Status:      res.Status.String(),
		ExitCode:    res.ExitCode,
		Warning:     res.Warning,
		LockRetries: res.LockRetries,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendRun(ctx, rec); err != nil {
		a.log.Warn("run history write failed", logx.String("profile", p.Profile), logx.Err(err))
	}
}
