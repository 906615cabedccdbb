package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"roombot/internal/clock"
	"roombot/internal/eventbus"
	"roombot/internal/transport"
	"roombot/pkg/logx"
)

const (
	DefaultMessageDelay  = 1200 * time.Millisecond
	DefaultPriorityDelay = 500 * time.Millisecond
	DefaultSendTimeout   = 5 * time.Second
)

// ErrInvalidDelay reports a rejected rate-limit value.
var ErrInvalidDelay = errors.New("outbox: delay must be positive")

type Class int

const (
	Normal Class = iota
	Priority
)

func (c Class) String() string {
	if c == Priority {
		return "priority"
	}
	return "normal"
}

// Message is a queued payload. The queue owns it until it is sent or cleared.
type Message struct {
	ID         string
	Target     transport.Target
	Payload    []byte
	Class      Class
	EnqueuedAt time.Time
}

type Config struct {
	MessageDelay  time.Duration
	PriorityDelay time.Duration
	SendTimeout   time.Duration
	// HighWatermark only triggers a warning; the queue never sheds.
	HighWatermark int
}

type Queue struct {
	clk    clock.Clock
	sender transport.Sender
	log    logx.Logger
	bus    eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	messageDelay  time.Duration
	priorityDelay time.Duration
	sendTimeout   time.Duration
	highWater     int
	overWater     bool
	entries       []Message
	lastSentAt    time.Time
	draining      bool
	pending       clock.Timer
	stopped       bool
	sent          uint64
	failed        uint64

	// post hands send completions back to the event loop. Nil sends inline.
	post func(func()) bool
}

type Option func(*Queue)

// WithAsyncSend runs each send on its own goroutine so a slow transport never
// stalls the loop. post must run its argument on the loop that drives clk.
func WithAsyncSend(post func(fn func()) bool) Option {
	return func(q *Queue) { q.post = post }
}

func New(cfg Config, clk clock.Clock, sender transport.Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		clk:           clk,
		sender:        sender,
		log:           log.With(logx.String("comp", "outbox")),
		bus:           bus,
		ctx:           ctx,
		cancel:        cancel,
		messageDelay:  DefaultMessageDelay,
		priorityDelay: DefaultPriorityDelay,
		sendTimeout:   DefaultSendTimeout,
		highWater:     cfg.HighWatermark,
	}
	for _, o := range opts {
		o(q)
	}
	if cfg.SendTimeout > 0 {
		q.sendTimeout = cfg.SendTimeout
	}
	if cfg.MessageDelay > 0 {
		q.messageDelay = cfg.MessageDelay
	}
	if cfg.PriorityDelay > 0 {
		q.priorityDelay = cfg.PriorityDelay
	}
	return q
}

// Enqueue adds a payload bound to target. It never blocks and never fails;
// after Stop the payload is dropped with a warning.
func (q *Queue) Enqueue(target transport.Target, payload []byte, class Class) Message {
	m := Message{
		ID:         uuid.NewString(),
		Target:     target,
		Payload:    append([]byte(nil), payload...),
		Class:      class,
		EnqueuedAt: q.clk.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.log.Warn("enqueue after stop dropped", logx.String("id", m.ID))
		return m
	}

	if class == Priority {
		i := 0
		for i < len(q.entries) && q.entries[i].Class == Priority {
			i++
		}
		q.entries = append(q.entries, Message{})
		copy(q.entries[i+1:], q.entries[i:])
		q.entries[i] = m
	} else {
		q.entries = append(q.entries, m)
	}

	if q.highWater > 0 {
		switch n := len(q.entries); {
		case n > q.highWater && !q.overWater:
			q.overWater = true
			q.log.Warn("outbox above high watermark", logx.Int("len", n), logx.Int("high_watermark", q.highWater))
		case n <= q.highWater:
			q.overWater = false
		}
	}

	if !q.draining {
		q.draining = true
		q.pending = q.clk.After(0, q.pop)
	}
	return m
}

func (q *Queue) delayLocked(c Class) time.Duration {
	if c == Priority {
		return q.priorityDelay
	}
	return q.messageDelay
}

func (q *Queue) pop() {
	q.mu.Lock()
	q.pending = nil
	if q.stopped || len(q.entries) == 0 {
		q.draining = false
		q.mu.Unlock()
		return
	}
	head := q.entries[0]
	q.entries[0] = Message{}
	q.entries = q.entries[1:]

	wait := time.Duration(0)
	if !q.lastSentAt.IsZero() {
		wait = max(0, q.delayLocked(head.Class)-q.clk.Now().Sub(q.lastSentAt))
	}
	if wait > 0 {
		q.pending = q.clk.After(wait, func() { q.deliver(head) })
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.deliver(head)
}

func (q *Queue) deliver(m Message) {
	q.mu.Lock()
	q.pending = nil
	if q.stopped {
		q.draining = false
		q.mu.Unlock()
		return
	}
	timeout := q.sendTimeout
	q.mu.Unlock()

	send := func() error {
		ctx, cancel := context.WithTimeout(q.ctx, timeout)
		defer cancel()
		return q.sender.SendNow(ctx, m.Target, m.Payload)
	}
	if q.post == nil {
		q.complete(m, send())
		return
	}
	// draining stays set while the send is in flight, so no second pop starts.
	go func() {
		err := send()
		if !q.post(func() { q.complete(m, err) }) {
			q.mu.Lock()
			q.draining = false
			q.mu.Unlock()
		}
	}()
}

// complete records a finished send and schedules the next pop. It runs on the loop.
func (q *Queue) complete(m Message, err error) {
	now := q.clk.Now()
	q.mu.Lock()
	q.lastSentAt = now
	if err != nil {
		q.failed++
	} else {
		q.sent++
	}
	if !q.stopped {
		q.pending = q.clk.After(q.delayLocked(m.Class), q.pop)
	} else {
		q.draining = false
	}
	q.mu.Unlock()

	info := Delivery{ID: m.ID, Class: m.Class.String(), Target: m.Target.String(), Latency: now.Sub(m.EnqueuedAt)}
	if err != nil {
		info.Error = err.Error()
		q.log.Warn("send failed", logx.String("id", m.ID), logx.String("class", m.Class.String()), logx.String("target", m.Target.String()), logx.Err(err))
		q.bus.Publish(eventbus.Event{Type: eventbus.OutboxFailed, Time: now, Data: info})
		return
	}
	q.log.Debug("sent", logx.String("id", m.ID), logx.String("class", m.Class.String()), logx.Duration("latency", info.Latency))
	q.bus.Publish(eventbus.Event{Type: eventbus.OutboxSent, Time: now, Data: info})
}

// Delivery is the payload of outbox bus events.
type Delivery struct {
	ID      string        `json:"id"`
	Class   string        `json:"class"`
	Target  string        `json:"target"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// ConfigureRateLimit sets the class delays. Each value is applied on its own;
// a non-positive value is logged, ignored, and reported in the returned error.
func (q *Queue) ConfigureRateLimit(messageDelay, priorityDelay time.Duration) error {
	var errs []error
	q.mu.Lock()
	if messageDelay > 0 {
		q.messageDelay = messageDelay
	} else {
		errs = append(errs, fmt.Errorf("message delay %v: %w", messageDelay, ErrInvalidDelay))
	}
	if priorityDelay > 0 {
		q.priorityDelay = priorityDelay
	} else {
		errs = append(errs, fmt.Errorf("priority delay %v: %w", priorityDelay, ErrInvalidDelay))
	}
	md, pd := q.messageDelay, q.priorityDelay
	q.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		q.log.Warn("rate limit value rejected", logx.Err(err), logx.Duration("message_delay", md), logx.Duration("priority_delay", pd))
	} else {
		q.log.Info("rate limit updated", logx.Duration("message_delay", md), logx.Duration("priority_delay", pd))
	}
	return err
}

// SetSendTimeout updates the per-send deadline. Non-positive values are ignored.
func (q *Queue) SetSendTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	q.mu.Lock()
	q.sendTimeout = d
	q.mu.Unlock()
}

// Clear drops every waiting message and reports how many were dropped.
// A message already popped for sending is not affected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.entries)
	q.entries = nil
	q.overWater = false
	q.mu.Unlock()
	if n > 0 {
		q.log.Info("outbox cleared", logx.Int("dropped", n))
		q.bus.Publish(eventbus.Event{Type: eventbus.OutboxCleared, Data: n})
	}
	return n
}

// Stop cancels the pending drain step and any in-flight send. Waiting
// messages are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	clock.Stop(q.pending)
	q.pending = nil
	q.draining = false
	n := len(q.entries)
	q.entries = nil
	q.mu.Unlock()
	q.cancel()
	if n > 0 {
		q.log.Info("outbox stopped with pending messages", logx.Int("dropped", n))
	}
}

type Stats struct {
	Pending         int           `json:"pending"`
	PendingPriority int           `json:"pending_priority"`
	Draining        bool          `json:"draining"`
	LastSentAt      time.Time     `json:"last_sent_at"`
	Sent            uint64        `json:"sent"`
	Failed          uint64        `json:"failed"`
	MessageDelay    time.Duration `json:"message_delay"`
	PriorityDelay   time.Duration `json:"priority_delay"`
}

func (q *Queue) Snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{
		Pending:       len(q.entries),
		Draining:      q.draining,
		LastSentAt:    q.lastSentAt,
		Sent:          q.sent,
		Failed:        q.failed,
		MessageDelay:  q.messageDelay,
		PriorityDelay: q.priorityDelay,
	}
	for _, m := range q.entries {
		if m.Class == Priority {
			st.PendingPriority++
		}
	}
	return st
}
