// Package telegram runs the bot in a Telegram group through the Bot API long
// poller. Envelopes are rendered to plain text; new members become joins.
package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"roombot/internal/eventbus"
	rtsup "roombot/internal/runtime/supervisor"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
	// Offline skips the getMe call; used by tests.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	bot *tele.Bot
	out atomic.Value // stores (chan<- transport.Event)

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	gen     atomic.Uint64
	live    atomic.Bool

	droppedEvents atomic.Uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bus: bus}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	var nilOut chan<- transport.Event
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) room() string { return strconv.FormatInt(a.cfg.ChatID, 10) }

// Target is valid while polling. The generation changes on each Start.
func (a *Adapter) Target() (transport.Target, bool) {
	if !a.live.Load() {
		return transport.Target{}, false
	}
	return transport.Target{Room: a.room(), Generation: a.gen.Load()}, true
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if ev, ok := a.textEvent(c.Message()); ok {
			a.emit(ev)
		}
		return nil
	})
	a.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		for _, ev := range a.joinEvents(c.Message()) {
			a.emit(ev)
		}
		return nil
	})
}

func (a *Adapter) inChat(m *tele.Message) bool {
	if m == nil || m.Chat == nil || m.Chat.ID != a.cfg.ChatID {
		return false
	}
	return a.cfg.ThreadID == 0 || m.ThreadID == a.cfg.ThreadID
}

func (a *Adapter) textEvent(m *tele.Message) (transport.Event, bool) {
	if !a.inChat(m) || m.Sender == nil || m.Sender.IsBot {
		return transport.Event{}, false
	}
	return transport.Event{
		Kind:              transport.EventText,
		SenderHandle:      strconv.FormatInt(m.Sender.ID, 10),
		SenderDisplayName: displayName(m.Sender),
		Username:          m.Sender.Username,
		Text:              m.Text,
	}, true
}

func (a *Adapter) joinEvents(m *tele.Message) []transport.Event {
	if !a.inChat(m) {
		return nil
	}
	users := m.UsersJoined
	if len(users) == 0 && m.UserJoined != nil {
		users = []tele.User{*m.UserJoined}
	}
	out := make([]transport.Event, 0, len(users))
	for _, u := range users {
		if u.IsBot {
			continue
		}
		out = append(out, transport.Event{
			Kind:              transport.EventJoin,
			SenderHandle:      strconv.FormatInt(u.ID, 10),
			SenderDisplayName: displayName(&u),
			Username:          u.Username,
		})
	}
	return out
}

func displayName(u *tele.User) string {
	n := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if n == "" {
		return u.Username
	}
	return n
}

func (a *Adapter) emit(ev transport.Event) {
	out, _ := a.out.Load().(chan<- transport.Event)
	if out == nil {
		return
	}
	select {
	case out <- ev:
	default:
		a.droppedEvents.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	gen := a.gen.Add(1)
	a.live.Store(true)
	a.bus.Publish(eventbus.Event{Type: eventbus.TransportUp, Time: time.Now(), Data: gen})

	sup.Go0("telegram.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDrops(out)
				return
			case <-ticker.C:
				a.reportDrops(out)
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Telebot's Start can return on some failures; restart it while the context is live.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.Int64("chat_id", a.cfg.ChatID))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(out chan<- transport.Event) {
	if n := a.droppedEvents.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Event
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.live.Store(false)
	a.bus.Publish(eventbus.Event{Type: eventbus.TransportDown, Time: time.Now(), Data: a.gen.Load()})

	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SendNow renders payload to text and posts it to the configured chat.
func (a *Adapter) SendNow(ctx context.Context, to transport.Target, payload []byte) error {
	cur, ok := a.Target()
	if !ok {
		return transport.ErrNotConnected
	}
	if to != cur {
		return transport.ErrStaleTarget
	}
	text, err := transport.Render(payload)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: a.cfg.ChatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := a.send(ctx, chat, chunk); err != nil {
			return err
		}
	}
	return nil
}

// send bounds bot.Send by ctx. telebot takes no context, so an abandoned
// request finishes in the background under the HTTP client's own timeout.
func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(chat, text, &tele.SendOptions{ThreadID: a.cfg.ThreadID})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
