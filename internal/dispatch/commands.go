package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"roombot/internal/catalog"
	"roombot/internal/outbox"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

// builtins is the command table. Order is match priority.
func (d *Dispatcher) builtins() []Command {
	return []Command{
		{Name: ".yt", Kind: Prefix, Usage: "[query]", Description: "Play a YouTube video", Handle: d.cmdYouTube},
		{Name: ".toke", Kind: Prefix, Usage: "[seconds]", Description: "Start a toke countdown", Handle: d.cmdToke},
		{Name: ".commands", Kind: Prefix, Description: "List all commands", Handle: d.cmdCommands},
		{Name: "ping", Kind: Exact, Hidden: true, Handle: d.cmdPing},
		{Name: ".cheers", Kind: Prefix, Description: "Share a friendly cheers with the room", Handle: d.cmdCheers},
		{Name: ".rules", Kind: Prefix, Description: "Show the room rules", Handle: d.cmdRules},
		{Name: ".cancel", Kind: Exact, Access: AccessModerator, Description: "Cancel the running countdown", Handle: d.cmdCancel},
		{Name: ".ratelimit", Kind: Prefix, Access: AccessModerator, Usage: "<normal ms> <priority ms>", Description: "Change the send spacing", Handle: d.cmdRateLimit},
		{Name: ".clearqueue", Kind: Exact, Access: AccessModerator, Description: "Drop queued messages", Handle: d.cmdClearQueue},
	}
}

func (d *Dispatcher) cmdYouTube(req *Request) error {
	if req.Args == "" {
		return nil
	}
	d.d.Outbox.Enqueue(req.Target, transport.YouTubePayload(req.Args), outbox.Priority)
	return nil
}

func (d *Dispatcher) cmdToke(req *Request) error {
	n, ok := leadingInt(req.Args)
	if !ok || n < d.cfg.TokeMin || n > d.cfg.TokeMax {
		d.say(req.Target, d.texts().Render(catalog.TokeInvalid,
			"min", strconv.Itoa(d.cfg.TokeMin), "max", strconv.Itoa(d.cfg.TokeMax)), outbox.Normal)
		return nil
	}
	return d.d.Countdown.Start(req.Target, n)
}

func (d *Dispatcher) cmdCommands(req *Request) error {
	for _, c := range d.commands {
		if c.Hidden || c.Access == AccessModerator {
			continue
		}
		d.say(req.Target, helpLine(c, d.cfg), outbox.Normal)
	}
	return nil
}

func helpLine(c Command, cfg Config) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(c.Name)
	if c.Usage != "" {
		b.WriteString(" " + c.Usage)
	}
	b.WriteString(" - " + c.Description)
	if c.Name == ".toke" {
		fmt.Fprintf(&b, " (%d-%d seconds)", cfg.TokeMin, cfg.TokeMax)
	}
	return b.String()
}

func (d *Dispatcher) cmdPing(req *Request) error {
	target := req.Target
	d.d.Clock.After(d.cfg.PingDelay, func() {
		d.say(target, d.texts().Render(catalog.Pong), outbox.Normal)
	})
	return nil
}

func (d *Dispatcher) cmdCheers(req *Request) error {
	name := d.d.Users.Nickname(req.Event.SenderHandle)
	d.say(req.Target, d.texts().Render(catalog.Cheers, "name", name), outbox.Normal)
	return nil
}

func (d *Dispatcher) cmdRules(req *Request) error {
	d.say(req.Target, d.texts().Render(catalog.RulesImage), outbox.Normal)
	return nil
}

func (d *Dispatcher) cmdCancel(req *Request) error {
	ok := d.d.Countdown.Cancel()
	detail := "no countdown running"
	if ok {
		detail = "countdown cancelled"
		d.say(req.Target, d.texts().Render(catalog.TokeCancelled), outbox.Priority)
	}
	d.audit(req, "cancel", detail, nil)
	return nil
}

func (d *Dispatcher) cmdRateLimit(req *Request) error {
	f := strings.Fields(req.Args)
	var msg, prio int
	var err error
	if len(f) != 2 {
		err = fmt.Errorf("ratelimit: want 2 arguments, got %d", len(f))
	} else if msg, err = strconv.Atoi(f[0]); err == nil {
		prio, err = strconv.Atoi(f[1])
	}
	if err == nil {
		err = d.d.Outbox.ConfigureRateLimit(time.Duration(msg)*time.Millisecond, time.Duration(prio)*time.Millisecond)
	}
	d.audit(req, "ratelimit", req.Args, err)
	if err != nil {
		// Either value may still have been applied; ConfigureRateLimit checks them independently.
		req.Logger.Info("rate limit rejected", logx.String("args", req.Args), logx.Err(err))
		d.say(req.Target, d.texts().Render(catalog.RateLimitInvalid), outbox.Priority)
		return nil
	}
	d.say(req.Target, d.texts().Render(catalog.RateLimitUpdated,
		"message", strconv.Itoa(msg), "priority", strconv.Itoa(prio)), outbox.Priority)
	return nil
}

func (d *Dispatcher) cmdClearQueue(req *Request) error {
	n := d.d.Outbox.Clear()
	d.audit(req, "clearqueue", strconv.Itoa(n)+" dropped", nil)
	d.say(req.Target, d.texts().Render(catalog.QueueCleared, "count", strconv.Itoa(n)), outbox.Priority)
	return nil
}
