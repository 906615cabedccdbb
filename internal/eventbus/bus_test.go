package eventbus

import "testing"

func TestPrefixFilter(t *testing.T) {
	t.Parallel()

	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	cd, unsubCD := b.Subscribe(4, "countdown.")
	defer unsubCD()

	b.Publish(Event{Type: OutboxSent})
	b.Publish(Event{Type: CountdownStarted, Data: 120})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(cd); got != 1 {
		t.Fatalf("countdown subscriber got %d events, want 1", got)
	}
	e := <-cd
	if e.Type != CountdownStarted || e.Data.(int) != 120 || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	b.Publish(Event{Type: OutboxSent})
	b.Publish(Event{Type: OutboxSent})
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: OutboxSent})
}
