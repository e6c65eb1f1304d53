package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tgrelay/internal/config"
	"tgrelay/internal/delivery"
	"tgrelay/internal/eventbus"
	"tgrelay/internal/health"
	"tgrelay/internal/httpapi"
	"tgrelay/internal/routing"
	rtsup "tgrelay/internal/runtime/supervisor"
	"tgrelay/internal/storage"
	kit "tgrelay/internal/transport"
	"tgrelay/internal/transport/telegram"
	logx "tgrelay/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sender   kit.Sender
	engine   *delivery.Engine
	resolver *routing.Resolver
	store    storage.Store
	prober   *health.Prober
	http     *httpapi.Server
}

type Option func(*options)

type options struct {
	version string
	sender  kit.Sender
}

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

// WithSender replaces the Telegram sender (tests, dry runs). No Bot API
// connection is made and the health prober is disabled.
func WithSender(s kit.Sender) Option { return func(o *options) { o.sender = s } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	st, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}

	// The Telegram log sink stays silent until SetSender below.
	logs, log := logx.New(st.logging())
	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logs,
		bus:  eventbus.New(),
	}
	fail := func(err error) (*App, error) {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logs.Close()
		return nil, err
	}

	var (
		bot    string
		pinger health.Pinger
	)
	if o.sender != nil {
		a.sender = o.sender
	} else {
		tg, err := telegram.New(st.telegram(), log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fail(err)
		}
		a.sender, bot, pinger = tg, tg.Username(), tg
	}
	logs.SetSender(a.sender)

	a.engine = delivery.New(st.policy(), a.sender, log.With(logx.String("comp", "delivery")), a.bus)
	a.resolver = routing.New(st.routing())

	if sc, enabled := st.storage(); enabled {
		store, err := storage.Open(sc, log)
		if err != nil {
			return fail(fmt.Errorf("storage: %w", err))
		}
		a.store = store
		a.log.Info("delivery audit enabled", logx.String("driver", sc.Driver))
	}

	deps := httpapi.Deps{
		Engine:   a.engine,
		Resolver: a.resolver,
		Store:    a.store,
		Bot:      bot,
		Version:  o.version,
		Runtime:  a.runtimeSnapshot,
	}
	if pinger != nil {
		a.prober = health.New(st.health(), pinger, true, log, a.bus)
		deps.Health = a.prober
	}
	a.http = httpapi.New(st.http(), deps, log)
	return a, nil
}

// Engine exposes the shared delivery engine (CLI one-shot sends).
func (a *App) Engine() *delivery.Engine { return a.engine }

func (a *App) Resolver() *routing.Resolver { return a.resolver }

// HTTP returns the API server.
func (a *App) HTTP() *httpapi.Server { return a.http }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := newSettings(cfg)
		return err
	})

	if a.prober != nil {
		if err := a.prober.Start(runCtx); err != nil {
			return fmt.Errorf("health: %w", err)
		}
	}
	a.http.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

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
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.watchdog)

	rc := a.resolver.Config()
	a.log.Info("app started",
		logx.String("config", a.cfgm.Path()),
		logx.String("default", rc.Default.String()),
		logx.String("primary", rc.Primary.String()),
		logx.String("secondary", rc.Secondary.String()),
	)
	a.notify(daemon.SdNotifyReady)
	return nil
}

// applyConfig pushes a committed config into the running components.
// Sections that cannot change in place are only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	st, err := newSettings(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(st.logging())
	a.engine.Apply(st.policy())
	a.resolver.Apply(st.routing())
	a.http.Apply(st.http())
	if a.prober != nil {
		if err := a.prober.Apply(st.health()); err != nil {
			a.log.Warn("invalid health.probe; keeping previous schedule", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if len(restart) > 0 {
		a.log.Warn("some config changes take effect after restart", logx.Strings("sections", restart))
	}
}

func (a *App) runtimeSnapshot() any {
	return map[string]any{
		"app":                a.sup.Snapshot(),
		"http":               a.http.Supervisor().Snapshot(),
		"bus_dropped":        a.bus.Dropped(),
		"log_telegram_drops": a.logs.TelegramDrops(),
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, maxD time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			maxD = min(maxD, time.Until(dl))
		}
		if maxD > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, maxD)
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
			if err != nil && !errors.Is(err, context.Canceled) {
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

	// HTTP first so no new deliveries start; in-flight requests get the shutdown window.
	shutdown := 5 * time.Second
	if d, err := a.cfgm.Get().Durations(); err == nil && d.ShutdownTimeout > 0 {
		shutdown = d.ShutdownTimeout
	}
	step("http", shutdown, func(c context.Context) error { a.http.Stop(c); return nil })
	a.sup.Cancel()
	step("health", time.Second, func(c context.Context) error {
		if a.prober != nil {
			a.prober.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
