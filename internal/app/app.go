// Package app wires the room bot: one event loop owning the outbox drain,
// the countdown and the announcer, fed by a transport adapter and
// reconfigured by the config watcher.
package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"roombot/internal/announcer"
	"roombot/internal/catalog"
	"roombot/internal/clock"
	"roombot/internal/config"
	"roombot/internal/countdown"
	"roombot/internal/dispatch"
	"roombot/internal/eventbus"
	"roombot/internal/observability/debug"
	"roombot/internal/outbox"
	rtsup "roombot/internal/runtime/supervisor"
	"roombot/internal/storage"
	"roombot/internal/transport"
	"roombot/internal/users"
	"roombot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	events  chan transport.Event

	loop      *clock.Loop
	texts     *catalog.Holder
	queue     *outbox.Queue
	countdown *countdown.Machine
	announcer *announcer.Announcer
	users     *users.Directory
	audit     *dispatch.Auditor
	dispatch  *dispatch.Dispatcher
	debug     *debug.Server
}

type Option func(*options)

type options struct {
	adapter   transport.Adapter
	envLookup func(string) (string, bool)
}

// WithAdapter replaces the configured transport driver.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithEnvLookup replaces os.LookupEnv for ROOMBOT_* overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(o *options) { o.envLookup = fn }
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	if o.envLookup != nil {
		cfgm.SetEnvLookup(o.envLookup)
	}
	cfgm.SetValidator(validateSettings)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, err
	}
	s, err := buildSettings(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(s.logging)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	bus := eventbus.New()
	if cfg.Logging.Alerts.Enabled {
		logSvc.SetAlertFunc(func(al logx.Alert) {
			bus.Publish(eventbus.Event{Type: eventbus.LogAlert, Time: time.Now(), Data: al})
		})
	}

	store, err := storage.Open(s.storage, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", s.storage.Driver))
	}

	ad := o.adapter
	if ad == nil {
		if ad, err = newAdapter(cfg, root, bus); err != nil {
			closeStore(store)
			_ = logSvc.Close()
			return nil, err
		}
	}

	loop := clock.NewLoop(0, root)
	clk := clock.NewReal(loop)
	texts := catalog.NewHolder(s.catalog)

	queue := outbox.New(s.outbox, clk, ad, root, bus, outbox.WithAsyncSend(loop.Post))
	cd := countdown.New(clk, queue, texts, s.policy, root, bus)
	ann, err := announcer.New(s.announcer, clk, queue, ad, cd, texts, root, bus)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	// A finale counts as the rules reminder.
	cd.OnFinish(ann.ResetReminder)

	dir := users.New(store, root)
	aud := dispatch.NewAuditor(store, root)
	disp := dispatch.New(s.dispatch, dispatch.Deps{
		Clock:     clk,
		Outbox:    queue,
		Countdown: cd,
		Users:     dir,
		Texts:     texts,
		Targets:   ad,
		Audit:     aud,
		Log:       root,
		Bus:       bus,
	})

	buf := cfg.Transport.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		events:    make(chan transport.Event, buf),
		loop:      loop,
		texts:     texts,
		queue:     queue,
		countdown: cd,
		announcer: ann,
		users:     dir,
		audit:     aud,
		dispatch:  disp,
	}
	if s.debugOn {
		a.debug = debug.New(s.debug, root)
	}
	return a, nil
}

// CheckConfig parses and validates a config file the way New does, without
// opening storage or connecting.
func CheckConfig(ctx context.Context, cfgPath string, opts ...Option) (*config.Config, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfgm := config.NewConfigManager(cfgPath)
	if o.envLookup != nil {
		cfgm.SetEnvLookup(o.envLookup)
	}
	cfgm.SetValidator(validateSettings)
	return cfgm.Check(ctx)
}

func validateSettings(_ context.Context, cfg *config.Config) error {
	_, err := buildSettings(cfg)
	return err
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

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := a.users.Preload(pctx); err != nil {
		a.log.Warn("user preload failed; starting empty", logx.Err(err))
	}
	cancel()

	a.sup.Go("loop", a.loop.Run)
	a.sup.Go("users.persist", a.users.Run)
	a.sup.Go("audit", a.audit.Run)
	a.loop.Post(a.announcer.Start)

	if err := a.adapter.Start(a.sup.Context(), a.events); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("%s adapter: %w", a.adapter.Name(), err)
	}

	a.sup.Go0("events.pump", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case ev := <-a.events:
				if !a.loop.Post(func() { a.dispatch.Handle(ev) }) {
					return
				}
			}
		}
	})

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
				a.reload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.debug != nil {
		a.registerStatus()
		if err := a.debug.Start(a.sup.Context()); err != nil {
			// The debug server is optional; keep the bot running.
			a.log.Warn("debug server not started", logx.Err(err))
		}
	}

	a.log.Info("app started", logx.String("transport", a.adapter.Name()))
	return nil
}

// reload applies a committed config. Sections listed by RestartRequired are
// only reported.
func (a *App) reload(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	if err := a.apply(ctx, next, slices.Contains(sections, "rate_limit")); err != nil {
		a.log.Warn("config apply failed; keeping previous", logx.Err(err))
		return
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// apply pushes cfg onto the running components. The outbox rate limit is only
// touched when rateLimit is set so a moderator's .ratelimit survives reloads
// of other sections.
func (a *App) apply(ctx context.Context, cfg *config.Config, rateLimit bool) error {
	s, err := buildSettings(cfg)
	if err != nil {
		return err
	}
	a.logs.Apply(s.logging)
	a.texts.Swap(s.catalog)
	if rateLimit {
		a.queue.SetSendTimeout(s.outbox.SendTimeout)
		if err := a.queue.ConfigureRateLimit(s.outbox.MessageDelay, s.outbox.PriorityDelay); err != nil {
			return err
		}
	}

	var annErr error
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.loop.Do(dctx, func() {
		a.countdown.SetPolicy(s.policy)
		a.dispatch.Apply(s.dispatch)
		annErr = a.announcer.Apply(s.announcer)
	}); err != nil {
		return err
	}
	return annErr
}

func (a *App) registerStatus() {
	a.debug.Handle("outbox", func(context.Context) (any, error) {
		return a.queue.Snapshot(), nil
	})
	a.debug.Handle("countdown", onLoop(a.loop, a.countdown.Status))
	a.debug.Handle("announcer", onLoop(a.loop, a.announcer.State))
	a.debug.Handle("supervisor", func(context.Context) (any, error) {
		return a.sup.Snapshot(), nil
	})
	a.debug.Handle("users", func(context.Context) (any, error) {
		return map[string]int{"known": a.users.Len()}, nil
	})
	a.debug.Handle("commands", func(context.Context) (any, error) {
		out := []map[string]string{}
		for _, c := range a.dispatch.Commands() {
			out = append(out, map[string]string{"name": c.Name, "usage": c.Usage, "description": c.Description})
		}
		return out, nil
	})
	a.debug.Handle("audit", func(ctx context.Context) (any, error) {
		if a.store == nil {
			return nil, storage.ErrDisabled
		}
		return a.store.RecentAudit(ctx, 50)
	})
	a.debug.Handle("eventbus", func(context.Context) (any, error) {
		return map[string]uint64{"dropped": a.bus.Dropped()}, nil
	})
}

// onLoop reads loop-owned state from a debug request.
func onLoop[T any](loop *clock.Loop, fn func() T) debug.StatusFunc {
	return func(ctx context.Context) (any, error) {
		var v T
		if err := loop.Do(ctx, func() { v = fn() }); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Inbound first, so nothing new reaches the loop.
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("timers", 1*time.Second, func(c context.Context) error {
		err := a.loop.Do(c, func() {
			a.announcer.Stop()
			a.countdown.Stop()
		})
		if errors.Is(err, clock.ErrLoopStopped) {
			return nil
		}
		return err
	})
	step("outbox", 1*time.Second, func(context.Context) error { a.queue.Stop(); return nil })
	step("debug", 1*time.Second, func(c context.Context) error {
		if a.debug == nil {
			return nil
		}
		return a.debug.Stop(c)
	})

	// Wait for supervised goroutines; users and audit flush on cancel.
	a.sup.Cancel()
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", 1*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
