// Package eventbus is an in-memory fanout of domain signals (messages sent,
// countdown transitions, config reloads) consumed by logging and the debug server.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by roombot components.
const (
	OutboxSent        = "outbox.sent"
	OutboxFailed      = "outbox.failed"
	OutboxCleared     = "outbox.cleared"
	CountdownStarted  = "countdown.started"
	CountdownFinished = "countdown.finished"
	CountdownCanceled = "countdown.cancelled"
	AnnouncerFired    = "announcer.fired"
	CommandHandled    = "dispatch.command"
	TransportUp       = "transport.connected"
	TransportDown     = "transport.disconnected"
	ConfigReloaded    = "config.reloaded"
	LogAlert          = "log.alert"
)

// Event is a small signal; Data should be JSON-serializable.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber drops events instead of stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

// Nop discards everything. Components use it when no bus is wired.
func Nop() Bus { return nopBus{} }

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.ch, e)
	}
}

func (b *memBus) deliver(ch chan Event, e Event) {
	// The channel may be closed by a concurrent unsubscribe.
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe registers a listener. With prefixes, only event types starting
// with one of them are delivered.
func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
func (nopBus) Dropped() uint64 { return 0 }
