// Package countdown runs the single room-wide countdown. All methods must be
// called from the event loop.
package countdown

import (
	"errors"
	"time"

	"roombot/internal/catalog"
	"roombot/internal/clock"
	"roombot/internal/eventbus"
	"roombot/internal/outbox"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

var ErrInvalidDuration = errors.New("countdown: duration must be positive")

type State int

const (
	Idle State = iota
	Running
	Finishing
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Finishing:
		return "finishing"
	default:
		return "idle"
	}
}

// Enqueuer is the part of the outbox the countdown needs.
type Enqueuer interface {
	Enqueue(target transport.Target, payload []byte, class outbox.Class) outbox.Message
}

type session struct {
	id        uint64
	total     int
	startedAt time.Time
	endsAt    time.Time
	target    transport.Target
	state     State
	lastSent  int
	tick      clock.Timer
	finish    clock.Timer
}

type Machine struct {
	clk   clock.Clock
	out   Enqueuer
	texts *catalog.Holder
	log   logx.Logger
	bus   eventbus.Bus

	policy     Policy
	cur        *session
	seq        uint64
	flourishes []clock.Timer
	onFinish   []func()
}

func New(clk clock.Clock, out Enqueuer, texts *catalog.Holder, policy Policy, log logx.Logger, bus eventbus.Bus) *Machine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if texts == nil {
		texts = catalog.NewHolder(nil)
	}
	return &Machine{
		clk:    clk,
		out:    out,
		texts:  texts,
		log:    log.With(logx.String("comp", "countdown")),
		bus:    bus,
		policy: policy,
	}
}

// OnFinish registers fn to run after every finale.
func (m *Machine) OnFinish(fn func()) {
	if fn != nil {
		m.onFinish = append(m.onFinish, fn)
	}
}

// SetPolicy takes effect for the next tick of the current session.
func (m *Machine) SetPolicy(p Policy) { m.policy = p }

func (m *Machine) Active() bool { return m.cur != nil }

// Start begins a countdown of total seconds, replacing any running one.
func (m *Machine) Start(target transport.Target, total int) error {
	if total <= 0 {
		return ErrInvalidDuration
	}
	if prev := m.cur; prev != nil {
		m.log.Info("countdown restarted", logx.Int("previous_total", prev.total), logx.Int("new_total", total))
		m.stopSession()
		m.bus.Publish(eventbus.Event{Type: eventbus.CountdownCanceled, Time: m.clk.Now(), Data: prev.id})
	}
	m.stopFlourishes()

	now := m.clk.Now()
	m.seq++
	s := &session{
		id:        m.seq,
		total:     total,
		startedAt: now,
		endsAt:    now.Add(time.Duration(total) * time.Second),
		target:    target,
		state:     Running,
		lastSent:  total + 1,
	}
	m.cur = s
	m.say(s.target, m.texts.Current().Render(catalog.TokeStart, "seconds", seconds(total)))
	s.tick = m.clk.Every(time.Second, func() { m.onTick(s) })

	m.log.Info("countdown started", logx.Int("seconds", total), logx.Time("ends_at", s.endsAt))
	m.bus.Publish(eventbus.Event{Type: eventbus.CountdownStarted, Time: now, Data: total})
	return nil
}

// Cancel stops the running countdown without a finale. It reports whether one was running.
func (m *Machine) Cancel() bool {
	s := m.cur
	if s == nil {
		return false
	}
	m.stopSession()
	m.stopFlourishes()
	m.log.Info("countdown cancelled", logx.Int("seconds", s.total))
	m.bus.Publish(eventbus.Event{Type: eventbus.CountdownCanceled, Time: m.clk.Now(), Data: s.id})
	return true
}

// Stop cancels every timer the machine owns. Used on shutdown.
func (m *Machine) Stop() {
	m.stopSession()
	m.stopFlourishes()
}

func (m *Machine) stopSession() {
	if s := m.cur; s != nil {
		clock.Stop(s.tick)
		clock.Stop(s.finish)
		m.cur = nil
	}
}

func (m *Machine) stopFlourishes() {
	for _, t := range m.flourishes {
		t.Stop()
	}
	m.flourishes = nil
}

func (m *Machine) onTick(s *session) {
	if m.cur != s {
		return
	}
	now := m.clk.Now()
	remaining := s.total - int(now.Sub(s.startedAt)/time.Second)
	if remaining <= 0 {
		m.finish(s)
		return
	}

	// Ticks can bunch up after a stall; never repeat or go back up.
	if remaining < s.lastSent {
		if key, ok := m.policy.Checkpoint(remaining); ok {
			s.lastSent = remaining
			m.say(s.target, m.texts.Current().Render(key, "seconds", seconds(remaining)))
		}
	}

	if left := s.endsAt.Sub(now); remaining <= m.policy.FinishWithin && left > time.Second {
		s.tick.Stop()
		s.tick = nil
		s.state = Finishing
		s.finish = m.clk.After(left, func() { m.finish(s) })
		m.log.Debug("countdown finishing", logx.Duration("left", left))
	}
}

func (m *Machine) finish(s *session) {
	if m.cur != s {
		return
	}
	m.stopSession()

	cat := m.texts.Current()
	m.say(s.target, cat.Render(catalog.TokeFinal))
	for i, text := range cat.Flourishes() {
		text := text
		delay := time.Duration(i+1) * m.policy.FlourishEvery
		var t clock.Timer
		t = m.clk.After(delay, func() {
			m.say(s.target, text)
			m.dropFlourish(t)
		})
		m.flourishes = append(m.flourishes, t)
	}

	now := m.clk.Now()
	m.log.Info("countdown finished", logx.Int("seconds", s.total), logx.Duration("skew", now.Sub(s.endsAt)))
	m.bus.Publish(eventbus.Event{Type: eventbus.CountdownFinished, Time: now, Data: s.id})
	for _, fn := range m.onFinish {
		fn()
	}
}

func (m *Machine) dropFlourish(t clock.Timer) {
	for i, x := range m.flourishes {
		if x == t {
			m.flourishes = append(m.flourishes[:i], m.flourishes[i+1:]...)
			return
		}
	}
}

func (m *Machine) say(target transport.Target, text string) {
	m.out.Enqueue(target, transport.TextPayload(text), outbox.Normal)
}

// Status is a point-in-time view for the debug server.
type Status struct {
	State     string    `json:"state"`
	Total     int       `json:"total,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndsAt    time.Time `json:"ends_at,omitempty"`
	Remaining string    `json:"remaining,omitempty"`
	Pending   int       `json:"pending_flourishes"`
}

func (m *Machine) Status() Status {
	st := Status{State: Idle.String(), Pending: len(m.flourishes)}
	if s := m.cur; s != nil {
		st.State = s.state.String()
		st.Total = s.total
		st.StartedAt = s.startedAt
		st.EndsAt = s.endsAt
		st.Remaining = max(0, s.endsAt.Sub(m.clk.Now())).String()
	}
	return st
}
