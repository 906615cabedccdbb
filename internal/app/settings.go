package app

import (
	"fmt"
	"strings"
	"time"

	"roombot/internal/announcer"
	"roombot/internal/catalog"
	"roombot/internal/config"
	"roombot/internal/countdown"
	"roombot/internal/dispatch"
	"roombot/internal/eventbus"
	"roombot/internal/observability/debug"
	"roombot/internal/outbox"
	"roombot/internal/storage"
	"roombot/internal/transport"
	"roombot/internal/transport/stumble"
	"roombot/internal/transport/telegram"
	"roombot/pkg/logx"
)

const (
	defaultEventBuffer  = 256
	defaultFilePath     = "./data/roombot"
	defaultSQLitePath   = "./data/roombot.db"
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
	defaultPollTimeout  = 10 * time.Second
)

// settings is a config file mapped onto component configs. Building one is
// also the component-level validation step for a candidate config.
type settings struct {
	outbox    outbox.Config
	policy    countdown.Policy
	dispatch  dispatch.Config
	announcer announcer.Config
	catalog   *catalog.Catalog
	logging   logx.Config
	storage   storage.Config
	debug     debug.Config
	debugOn   bool
}

func buildSettings(cfg *config.Config) (*settings, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var (
		s   settings
		err error
	)
	if s.outbox, err = mapOutboxConfig(cfg); err != nil {
		return nil, err
	}
	if s.policy, err = mapCountdownPolicy(cfg); err != nil {
		return nil, err
	}
	if s.dispatch, err = mapDispatchConfig(cfg); err != nil {
		return nil, err
	}
	if s.announcer, err = mapAnnouncerConfig(cfg); err != nil {
		return nil, err
	}
	if s.catalog, err = catalog.New(catalog.Overrides{
		Texts:      cfg.Messages.Texts,
		Greetings:  cfg.Messages.Greetings,
		Flourishes: cfg.Messages.Flourishes,
	}); err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	s.logging = mapLoggingConfig(cfg)
	if s.storage, err = mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	if s.debug, err = mapDebugConfig(cfg); err != nil {
		return nil, err
	}
	s.debugOn = cfg.Debug.Enabled
	return &s, nil
}

func mapOutboxConfig(cfg *config.Config) (outbox.Config, error) {
	rl := cfg.RateLimit
	md, err := config.ParseDurationOrDefault("rate_limit.message_delay", rl.MessageDelay, outbox.DefaultMessageDelay)
	if err != nil {
		return outbox.Config{}, err
	}
	pd, err := config.ParseDurationOrDefault("rate_limit.priority_delay", rl.PriorityDelay, outbox.DefaultPriorityDelay)
	if err != nil {
		return outbox.Config{}, err
	}
	st, err := config.ParseDurationOrDefault("rate_limit.send_timeout", rl.SendTimeout, outbox.DefaultSendTimeout)
	if err != nil {
		return outbox.Config{}, err
	}
	return outbox.Config{MessageDelay: md, PriorityDelay: pd, SendTimeout: st, HighWatermark: rl.HighWatermark}, nil
}

func mapCountdownPolicy(cfg *config.Config) (countdown.Policy, error) {
	c := cfg.Countdown
	p := countdown.DefaultPolicy()
	if c.LongFrom != 0 {
		p.LongFrom = c.LongFrom
	}
	if c.LongEvery != 0 {
		p.LongEvery = c.LongEvery
	}
	if c.ShortFloor != 0 {
		p.ShortFloor = c.ShortFloor
	}
	if c.ShortEvery != 0 {
		p.ShortEvery = c.ShortEvery
	}
	if c.FinalSeconds != 0 {
		p.FinalSeconds = c.FinalSeconds
	}
	if c.FinishWithin != 0 {
		p.FinishWithin = c.FinishWithin
	}
	fe, err := config.ParseDurationOrDefault("countdown.flourish_every", c.FlourishEvery, p.FlourishEvery)
	if err != nil {
		return countdown.Policy{}, err
	}
	p.FlourishEvery = fe
	if err := p.Validate(); err != nil {
		return countdown.Policy{}, err
	}
	return p, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := dispatch.DefaultConfig()
	if cfg.Countdown.MinSeconds > 0 {
		d.TokeMin = cfg.Countdown.MinSeconds
	}
	if cfg.Countdown.MaxSeconds > 0 {
		d.TokeMax = cfg.Countdown.MaxSeconds
	}
	if d.TokeMax < d.TokeMin {
		return dispatch.Config{}, fmt.Errorf("countdown: max_seconds (%d) below min_seconds (%d)", d.TokeMax, d.TokeMin)
	}
	pd, err := config.ParseDurationOrDefault("dispatch.ping_delay", cfg.Dispatch.PingDelay, dispatch.DefaultPingDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	d.PingDelay = pd
	if cfg.Dispatch.Greet != nil {
		d.Greet = *cfg.Dispatch.Greet
	}
	d.Moderators = append([]string(nil), cfg.Dispatch.Moderators...)
	switch r := cfg.Dispatch.FloodRate; {
	case r < 0:
		d.FloodRate = 0
	case r > 0:
		d.FloodRate = r
	}
	if cfg.Dispatch.FloodBurst > 0 {
		d.FloodBurst = cfg.Dispatch.FloodBurst
	}
	return d, nil
}

func mapAnnouncerConfig(cfg *config.Config) (announcer.Config, error) {
	ac := cfg.Announcer
	out := announcer.DefaultConfig()
	if tz := strings.TrimSpace(ac.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return announcer.Config{}, fmt.Errorf("announcer.timezone: %w", err)
		}
		out.Location = loc
	}
	tick, err := config.ParseDurationOrDefault("announcer.tick", ac.Tick, out.TickPeriod)
	if err != nil {
		return announcer.Config{}, err
	}
	out.TickPeriod = tick

	if out.TimeMatch, err = mergeTrigger("announcer.time_match", out.TimeMatch, ac.TimeMatch); err != nil {
		return announcer.Config{}, err
	}
	if out.Reminder, err = mergeTrigger("announcer.reminder", out.Reminder, ac.Reminder); err != nil {
		return announcer.Config{}, err
	}
	if out.Rotation, err = mergeTrigger("announcer.rotation", out.Rotation, ac.Rotation); err != nil {
		return announcer.Config{}, err
	}
	return out, nil
}

// mergeTrigger lays the file's overrides over a built-in trigger.
func mergeTrigger(path string, def announcer.TriggerConfig, o *config.TriggerConfig) (announcer.TriggerConfig, error) {
	t := def
	if o != nil {
		if o.Enabled != nil {
			t.Enabled = *o.Enabled
		}
		if s := strings.TrimSpace(o.Schedule); s != "" {
			t.Schedule = s
		}
		w, err := config.ParseDurationOrDefault(path+".window", o.Window, t.Window)
		if err != nil {
			return t, err
		}
		t.Window = w
		if o.Immediate != nil {
			t.Immediate = *o.Immediate
		}
		if o.Priority != nil {
			t.Priority = *o.Priority
		}
		if len(o.Messages) > 0 {
			t.Messages = append([]string(nil), o.Messages...)
		}
	}
	if !t.Enabled {
		return t, nil
	}
	if _, err := announcer.ParseSpec(t.Schedule); err != nil {
		return t, fmt.Errorf("%s.schedule: %w", path, err)
	}
	if len(t.Messages) == 0 {
		return t, fmt.Errorf("%s.messages: at least one message is required", path)
	}
	return t, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	bt, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		switch driver {
		case "file":
			path = defaultFilePath
		case "sqlite":
			path = defaultSQLitePath
		}
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		DSN:         sc.DSN,
		BusyTimeout: bt,
		Redis: storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
		AuditKeep: sc.AuditKeep,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	dc := cfg.Debug
	rt, err := config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 10*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("debug.write_timeout", dc.WriteTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 60*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Addr:          dc.Addr,
		PprofPrefix:   dc.PprofPrefix,
		Token:         dc.Token,
		AllowInsecure: dc.AllowInsecure,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
		IdleTimeout:   it,
	}, nil
}

func mapStumbleConfig(cfg *config.Config) (stumble.Config, error) {
	r := cfg.Room
	ping, err := config.ParseDurationOrDefault("room.ping_interval", r.PingInterval, 0)
	if err != nil {
		return stumble.Config{}, err
	}
	rmin, err := config.ParseDurationOrDefault("room.reconnect_min", r.ReconnectMin, defaultReconnectMin)
	if err != nil {
		return stumble.Config{}, err
	}
	rmax, err := config.ParseDurationOrDefault("room.reconnect_max", r.ReconnectMax, defaultReconnectMax)
	if err != nil {
		return stumble.Config{}, err
	}
	return stumble.Config{
		URL:          r.URL,
		Room:         r.Room,
		Token:        r.Token,
		Origin:       r.Origin,
		Headers:      r.Headers,
		Join:         r.Join,
		ReadLimit:    r.ReadLimit,
		PingInterval: ping,
		ReconnectMin: rmin,
		ReconnectMax: max(rmin, rmax),
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	t := cfg.Telegram
	pt, err := config.ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: t.Token, ChatID: t.ChatID, ThreadID: t.ThreadID, PollTimeout: pt}, nil
}

// newAdapter builds the configured room driver.
func newAdapter(cfg *config.Config, log logx.Logger, bus eventbus.Bus) (transport.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "", "stumble":
		sc, err := mapStumbleConfig(cfg)
		if err != nil {
			return nil, err
		}
		return stumble.New(sc, log, bus)
	case "telegram":
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		return telegram.New(tc, log, bus)
	default:
		return nil, fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
}
