// Package dispatch turns inbound room events into actions: a fixed command
// table for text lines and a greeting for joins. Handle runs on the event loop.
package dispatch

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"roombot/internal/catalog"
	"roombot/internal/clock"
	"roombot/internal/eventbus"
	"roombot/internal/outbox"
	"roombot/internal/storage"
	"roombot/internal/transport"
	"roombot/internal/users"
	"roombot/pkg/logx"
)

const (
	DefaultTokeMin   = 60
	DefaultTokeMax   = 240
	DefaultPingDelay = time.Second
)

type Kind int

const (
	// Prefix matches when the line starts with the command name.
	Prefix Kind = iota
	// Exact matches when the trimmed line equals the command name.
	Exact
)

type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
)

type Outbox interface {
	Enqueue(target transport.Target, payload []byte, class outbox.Class) outbox.Message
	ConfigureRateLimit(messageDelay, priorityDelay time.Duration) error
	Clear() int
}

type Countdown interface {
	Start(target transport.Target, total int) error
	Cancel() bool
}

// Request is one matched command invocation.
type Request struct {
	ID      string
	Command string
	Args    string
	Access  Access
	Event   transport.Event
	Target  transport.Target
	Logger  logx.Logger
}

type Command struct {
	Name        string
	Kind        Kind
	Access      Access
	Usage       string
	Description string
	// Hidden commands are left out of the .commands listing.
	Hidden bool
	Handle HandlerFunc
}

func (c Command) matches(text string) (args string, ok bool) {
	switch c.Kind {
	case Exact:
		if strings.TrimSpace(text) == c.Name {
			return "", true
		}
	default:
		if strings.HasPrefix(text, c.Name) {
			return strings.TrimSpace(text[len(c.Name):]), true
		}
	}
	return "", false
}

type Config struct {
	TokeMin   int
	TokeMax   int
	PingDelay time.Duration
	Greet     bool
	// Moderators are handles or usernames treated as moderators even when
	// the room does not flag them.
	Moderators []string
	// FloodRate is commands per second per sender; zero disables the guard.
	FloodRate  float64
	FloodBurst int
}

func DefaultConfig() Config {
	return Config{
		TokeMin:    DefaultTokeMin,
		TokeMax:    DefaultTokeMax,
		PingDelay:  DefaultPingDelay,
		Greet:      true,
		FloodRate:  1,
		FloodBurst: 4,
	}
}

var ErrNoTarget = errors.New("dispatch: no room connected")

type Deps struct {
	Clock     clock.Clock
	Outbox    Outbox
	Countdown Countdown
	Users     *users.Directory
	Texts     *catalog.Holder
	Targets   transport.TargetSource
	Audit     *Auditor
	Log       logx.Logger
	Bus       eventbus.Bus
}

type Dispatcher struct {
	d    Deps
	log  logx.Logger
	cfg  Config
	mods map[string]struct{}

	commands []Command
	run      HandlerFunc
	flood    *floodGuard
	pick     func(n int) int
}

func New(cfg Config, deps Deps) *Dispatcher {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	d := &Dispatcher{
		d:    deps,
		log:  deps.Log.With(logx.String("comp", "dispatch")),
		pick: rand.Intn,
	}
	d.commands = d.builtins()
	d.run = Chain(d.invoke, MWPanicRecover(), MWRequestLog(), MWModeratorOnly(d.isModerator))
	d.Apply(cfg)
	return d
}

// Apply swaps the tunables. Must be called on the loop.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.TokeMin <= 0 || cfg.TokeMax < cfg.TokeMin {
		cfg.TokeMin, cfg.TokeMax = DefaultTokeMin, DefaultTokeMax
	}
	if cfg.PingDelay < 0 {
		cfg.PingDelay = DefaultPingDelay
	}
	d.cfg = cfg
	d.mods = make(map[string]struct{}, len(cfg.Moderators))
	for _, m := range cfg.Moderators {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			d.mods[m] = struct{}{}
		}
	}
	d.flood = newFloodGuard(cfg.FloodRate, cfg.FloodBurst)
}

// Commands returns the command table in match order.
func (d *Dispatcher) Commands() []Command { return append([]Command(nil), d.commands...) }

// Handle consumes one inbound event.
func (d *Dispatcher) Handle(ev transport.Event) {
	switch ev.Kind {
	case transport.EventJoin:
		d.onJoin(ev)
	case transport.EventText:
		d.onText(ev)
	}
}

func (d *Dispatcher) onJoin(ev transport.Event) {
	if ev.SenderHandle == "" {
		return
	}
	rec := d.d.Users.Remember(ev.SenderHandle, ev.SenderDisplayName, ev.Username, ev.IsModerator, d.d.Clock.Now())
	if !d.cfg.Greet {
		return
	}
	target, ok := d.target()
	if !ok {
		return
	}
	cat := d.d.Texts.Current()
	i := 0
	if n := cat.GreetingCount(); n > 1 {
		i = d.pick(n)
	}
	d.say(target, cat.Greeting(i, rec.Nickname), outbox.Normal)
}

func (d *Dispatcher) onText(ev transport.Event) {
	cmd, args, ok := d.match(ev.Text)
	if !ok {
		return
	}
	if !d.flood.allow(ev.SenderHandle, d.d.Clock.Now()) {
		d.log.Debug("command throttled", logx.String("cmd", cmd.Name), logx.String("from", ev.SenderHandle))
		return
	}
	target, ok := d.target()
	if !ok {
		return
	}

	req := &Request{
		ID:      uuid.NewString()[:8],
		Command: cmd.Name,
		Args:    args,
		Access:  cmd.Access,
		Event:   ev,
		Target:  target,
	}
	req.Logger = d.log.With(logx.String("req", req.ID))
	err := d.run(req)
	d.d.Bus.Publish(eventbus.Event{Type: eventbus.CommandHandled, Time: d.d.Clock.Now(), Data: map[string]any{
		"cmd": cmd.Name, "from": ev.SenderHandle, "ok": err == nil,
	}})
}

// match returns the first command in table order that accepts text.
func (d *Dispatcher) match(text string) (Command, string, bool) {
	if text == "" {
		return Command{}, "", false
	}
	for _, c := range d.commands {
		if args, ok := c.matches(text); ok {
			return c, args, true
		}
	}
	return Command{}, "", false
}

func (d *Dispatcher) invoke(req *Request) error {
	for _, c := range d.commands {
		if c.Name == req.Command {
			return c.Handle(req)
		}
	}
	return nil
}

func (d *Dispatcher) isModerator(req *Request) bool {
	if req.Event.IsModerator || d.d.Users.IsModerator(req.Event.SenderHandle) {
		return true
	}
	if _, ok := d.mods[strings.ToLower(req.Event.SenderHandle)]; ok {
		return true
	}
	if u := strings.ToLower(req.Event.Username); u != "" {
		_, ok := d.mods[u]
		return ok
	}
	return false
}

func (d *Dispatcher) target() (transport.Target, bool) {
	t, ok := d.d.Targets.Target()
	if !ok {
		d.log.Debug("no room target; event ignored", logx.Err(ErrNoTarget))
	}
	return t, ok
}

func (d *Dispatcher) say(target transport.Target, text string, class outbox.Class) {
	d.d.Outbox.Enqueue(target, transport.TextPayload(text), class)
}

func (d *Dispatcher) texts() *catalog.Catalog { return d.d.Texts.Current() }

func (d *Dispatcher) audit(req *Request, action, detail string, err error) {
	e := storage.AuditEntry{
		At:          d.d.Clock.Now(),
		ActorHandle: req.Event.SenderHandle,
		ActorName:   req.Event.SenderDisplayName,
		Action:      action,
		Detail:      detail,
		OK:          err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	d.d.Audit.Record(e)
}

// leadingInt parses the decimal digits at the start of s, ignoring what follows.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[0] == '-' || s[0] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	return n, err == nil
}
