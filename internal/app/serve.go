package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"prestic/internal/config"
	"prestic/internal/eventbus"
	"prestic/internal/notify"
	rtsup "prestic/internal/runtime/supervisor"
	logx "prestic/pkg/logx"
)

// Serve runs the service loop until ctx is canceled: config watch and hot
// reload, scheduler ticks, per-profile executions, run notifications.
func (a *App) Serve(ctx context.Context) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)
	a.sup = sup

	a.notif.Start(sup.Context())

	sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	reload := a.cfgm.Subscribe(8)
	sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(reload)
		a.reloadLoop(c, reload)
	})

	events, unsub := a.bus.Subscribe(64)
	sup.Go0("notify.bridge", func(c context.Context) {
		defer unsub()
		a.notifyLoop(c, events)
	})

	sup.Go0("scheduler.tick", func(c context.Context) {
		a.tickLoop(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("service started",
		logx.Duration("tick", a.tick),
		logx.String("config", a.cfgm.Path()))

	<-sup.Context().Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("service stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.notif.Stop(stopCtx)
	_ = sup.Wait(stopCtx)

	if err := sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// tickLoop polls the scheduler and launches due profiles. Each profile
// runs in its own goroutine; the scheduler keeps it marked running until
// completion, so a profile never overlaps itself.
func (a *App) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := a.clock.Now()
			a.mu.RLock()
			due := a.sched.Due(now)
			a.mu.RUnlock()
			for _, name := range due {
				name := name
				a.sup.Go0("run."+name, func(c context.Context) {
					a.runScheduled(c, name)
				})
			}
		}
	}
}

func (a *App) runScheduled(ctx context.Context, name string) {
	_, err := a.execute(ctx, name, "", nil, nil)
	finished := a.clock.Now()

	a.mu.RLock()
	a.sched.Complete(name, finished)
	a.mu.RUnlock()

	if err != nil {
		// Resolution or planning failed; the runner never started, so no
		// run event was published.
		a.log.Error("scheduled run not started", logx.String("profile", name), logx.Err(err))
	}
}

// reloadLoop applies validated config updates live: logging first, then
// profiles and schedules. Storage and notification transports need a
// restart; changes there are only reported.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest snapshot.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
					continue
				default:
				}
				break
			}

			a.logs.Apply(cfg.Settings.Logging.Logx())

			if tick, err := cfg.Settings.Service.TickDuration(); err == nil && tick != a.tick {
				a.log.Warn("service tick changed; restart required to take effect",
					logx.Duration("configured", tick))
			}
			if cfg.Settings.Storage != nil || cfg.Settings.Notify != nil {
				a.log.Debug("storage/notify settings apply on next restart")
			}

			if err := a.applyProfiles(cfg); err != nil {
				// Validator should have caught this; keep the old profiles.
				a.log.Error("profile reload failed; keeping previous profiles", logx.Err(err))
			}
		}
	}
}

// notifyLoop forwards terminal run events to the notification pipeline.
func (a *App) notifyLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, isRun := e.Data.(eventbus.RunEvent)
			if !isRun {
				continue
			}
			m, ok := notify.FromRunEvent(e.Type, ev)
			if !ok {
				continue
			}
			if err := a.notif.Notify(ctx, m); err != nil &&
				!errors.Is(err, notify.ErrDisabled) && !errors.Is(err, notify.ErrStopped) {
				a.log.Warn("notification enqueue failed", logx.String("profile", ev.Profile), logx.Err(err))
			}
		}
	}
}
