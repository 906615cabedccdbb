// Package announcer posts the room's recurring messages: the 4:20 call, the
// rules reminder and a rotating announcement. It runs on its own one-second
// tick and stays quiet while a countdown is active.
package announcer

import (
	"fmt"
	"time"

	"roombot/internal/catalog"
	"roombot/internal/clock"
	"roombot/internal/eventbus"
	"roombot/internal/outbox"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

type Enqueuer interface {
	Enqueue(target transport.Target, payload []byte, class outbox.Class) outbox.Message
}

// Gate suppresses every trigger while Active reports true.
type Gate interface {
	Active() bool
}

type TriggerConfig struct {
	Enabled  bool
	Schedule string
	// Window bounds how late into a cron slot the trigger may still fire.
	Window time.Duration
	// Immediate lets an interval trigger fire on the first tick instead of
	// waiting one full interval.
	Immediate bool
	Priority  bool
	// Messages are literal texts or catalog keys. Single-message triggers use the first.
	Messages []string
}

type Config struct {
	Location   *time.Location
	TimeMatch  TriggerConfig
	Reminder   TriggerConfig
	Rotation   TriggerConfig
	TickPeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Location: time.Local,
		TimeMatch: TriggerConfig{
			Enabled: true, Schedule: "20 * * * *", Window: 10 * time.Second, Priority: true,
			Messages: []string{string(catalog.FourTwenty)},
		},
		Reminder: TriggerConfig{
			Enabled: true, Schedule: "13m", Immediate: true,
			Messages: []string{string(catalog.RulesImage)},
		},
		Rotation: TriggerConfig{
			Enabled: true, Schedule: "20m",
			Messages: []string{string(catalog.Suggestion)},
		},
		TickPeriod: time.Second,
	}
}

type trigger struct {
	name string
	cfg  TriggerConfig
	spec Spec

	lastFiredAt time.Time
	lastSlot    time.Time
	index       int
}

func newTrigger(name string, cfg TriggerConfig) (*trigger, error) {
	if !cfg.Enabled {
		return &trigger{name: name, cfg: cfg}, nil
	}
	sp, err := ParseSpec(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("announcer %s: %w", name, err)
	}
	if len(cfg.Messages) == 0 {
		return nil, fmt.Errorf("announcer %s: no messages", name)
	}
	if sp.Kind == SpecCron && cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &trigger{name: name, cfg: cfg, spec: sp}, nil
}

// TimerState is the announcer's process-lifetime bookkeeping.
type TimerState struct {
	LastFiredHour    int       `json:"last_fired_hour"`
	LastFiredDay     string    `json:"last_fired_day"`
	ReminderFiredAt  time.Time `json:"reminder_fired_at"`
	RotationFiredAt  time.Time `json:"rotation_fired_at"`
	RotationIndex    int       `json:"rotation_index"`
	SuppressedByGate uint64    `json:"suppressed_by_gate"`
	SkippedNoTarget  uint64    `json:"skipped_no_target"`
	TZ               string    `json:"tz"`
}

type Announcer struct {
	clk     clock.Clock
	out     Enqueuer
	targets transport.TargetSource
	gate    Gate
	texts   *catalog.Holder
	log     logx.Logger
	bus     eventbus.Bus

	loc        *time.Location
	tickPeriod time.Duration
	timeMatch  *trigger
	reminder   *trigger
	rotation   *trigger

	day        string
	startedAt  time.Time
	tick       clock.Timer
	suppressed uint64
	noTarget   uint64
}

func New(cfg Config, clk clock.Clock, out Enqueuer, targets transport.TargetSource, gate Gate, texts *catalog.Holder, log logx.Logger, bus eventbus.Bus) (*Announcer, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if texts == nil {
		texts = catalog.NewHolder(nil)
	}
	a := &Announcer{
		clk:     clk,
		out:     out,
		targets: targets,
		gate:    gate,
		texts:   texts,
		log:     log.With(logx.String("comp", "announcer")),
		bus:     bus,
	}
	if err := a.Apply(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Apply swaps the trigger configuration. Bookkeeping of triggers whose
// schedule did not change is kept.
func (a *Announcer) Apply(cfg Config) error {
	tm, err := newTrigger("time_match", cfg.TimeMatch)
	if err != nil {
		return err
	}
	rm, err := newTrigger("reminder", cfg.Reminder)
	if err != nil {
		return err
	}
	rot, err := newTrigger("rotation", cfg.Rotation)
	if err != nil {
		return err
	}
	carry(a.timeMatch, tm)
	carry(a.reminder, rm)
	carry(a.rotation, rot)

	a.timeMatch, a.reminder, a.rotation = tm, rm, rot
	a.loc = cfg.Location
	if a.loc == nil {
		a.loc = time.Local
	}
	period := cfg.TickPeriod
	if period <= 0 {
		period = time.Second
	}
	if a.tick != nil && period != a.tickPeriod {
		a.tick.Stop()
		a.tick = a.clk.Every(period, a.onTick)
	}
	a.tickPeriod = period
	return nil
}

func carry(prev, next *trigger) {
	if prev == nil || prev.spec.Raw != next.spec.Raw {
		return
	}
	next.lastFiredAt = prev.lastFiredAt
	next.lastSlot = prev.lastSlot
	if len(next.cfg.Messages) > 0 {
		next.index = prev.index % len(next.cfg.Messages)
	}
}

func (a *Announcer) Start() {
	if a.tick != nil {
		return
	}
	a.startedAt = a.clk.Now()
	a.tick = a.clk.Every(a.tickPeriod, a.onTick)
	a.log.Info("announcer started", logx.Duration("tick", a.tickPeriod))
}

func (a *Announcer) Stop() {
	clock.Stop(a.tick)
	a.tick = nil
}

// ResetReminder restarts the reminder interval. The countdown calls it after a finale.
func (a *Announcer) ResetReminder() {
	if a.reminder != nil {
		a.reminder.lastFiredAt = a.clk.Now()
	}
}

func (a *Announcer) onTick() {
	now := a.clk.Now().In(a.loc)

	if day := now.Format(time.DateOnly); day != a.day {
		if a.day != "" {
			a.log.Debug("day changed, time match memory reset", logx.String("day", day))
		}
		a.day = day
		if a.timeMatch != nil {
			a.timeMatch.lastSlot = time.Time{}
		}
	}

	if a.gate != nil && a.gate.Active() {
		a.suppressed++
		return
	}

	for _, tr := range []*trigger{a.timeMatch, a.reminder, a.rotation} {
		if tr != nil && tr.cfg.Enabled && a.due(tr, now) {
			a.fire(tr, now)
		}
	}
}

func (a *Announcer) due(tr *trigger, now time.Time) bool {
	switch tr.spec.Kind {
	case SpecCron:
		slot, ok := tr.spec.slot(now)
		if !ok || now.Sub(slot) >= tr.cfg.Window {
			return false
		}
		// Once per hour per day, as long as the slot is new.
		return tr.lastSlot.IsZero() || !(tr.lastSlot.Hour() == slot.Hour() && tr.lastSlot.Format(time.DateOnly) == slot.Format(time.DateOnly))
	default:
		last := tr.lastFiredAt
		if last.IsZero() && !tr.cfg.Immediate {
			last = a.startedAt
		}
		return last.IsZero() || now.Sub(last) >= tr.spec.Every
	}
}

func (a *Announcer) fire(tr *trigger, now time.Time) {
	target, ok := a.targets.Target()
	if !ok {
		a.noTarget++
		a.log.Debug("no target, announcement skipped", logx.String("trigger", tr.name))
		return
	}

	text := a.resolve(tr.cfg.Messages[tr.index%len(tr.cfg.Messages)])
	class := outbox.Normal
	if tr.cfg.Priority {
		class = outbox.Priority
	}
	a.out.Enqueue(target, transport.TextPayload(text), class)

	tr.lastFiredAt = now
	if tr.spec.Kind == SpecCron {
		tr.lastSlot, _ = tr.spec.slot(now)
	}
	tr.index = (tr.index + 1) % len(tr.cfg.Messages)

	a.log.Info("announcement posted", logx.String("trigger", tr.name), logx.Int("next_index", tr.index))
	a.bus.Publish(eventbus.Event{Type: eventbus.AnnouncerFired, Time: now, Data: tr.name})
}

func (a *Announcer) resolve(entry string) string {
	cat := a.texts.Current()
	key := catalog.Key(entry)
	if !cat.Has(key) {
		return entry
	}
	return cat.Render(key, "link", cat.Render(catalog.SuggestionsLink))
}

func (a *Announcer) State() TimerState {
	st := TimerState{LastFiredHour: -1, SuppressedByGate: a.suppressed, SkippedNoTarget: a.noTarget}
	if a.loc != nil {
		st.TZ = a.loc.String()
	}
	if tm := a.timeMatch; tm != nil && !tm.lastSlot.IsZero() {
		st.LastFiredHour = tm.lastSlot.Hour()
		st.LastFiredDay = tm.lastSlot.Format(time.DateOnly)
	}
	if a.reminder != nil {
		st.ReminderFiredAt = a.reminder.lastFiredAt
	}
	if a.rotation != nil {
		st.RotationFiredAt = a.rotation.lastFiredAt
		st.RotationIndex = a.rotation.index
	}
	return st
}
