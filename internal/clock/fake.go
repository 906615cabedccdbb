package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven clock for tests. Callbacks run synchronously
// inside Advance, in due order; timers due at the same instant fire in
// registration order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	f       *Fake
	due     time.Time
	period  time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration, fn func()) Timer {
	return f.add(max(d, 0), 0, fn)
}

func (f *Fake) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Second
	}
	return f.add(d, d, fn)
}

func (f *Fake) add(d, period time.Duration, fn func()) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{f: f, due: f.now.Add(d), period: period, seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.f.remove(t)
	return true
}

func (f *Fake) remove(t *fakeTimer) {
	for i, x := range f.timers {
		if x == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

// next returns the earliest live timer due at or before limit.
func (f *Fake) next(limit time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range f.timers {
		if t.due.After(limit) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// Advance moves time forward by d, firing every timer that comes due,
// including timers registered by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	for {
		t := f.next(target)
		if t == nil {
			break
		}
		f.now = t.due
		if t.period > 0 {
			t.due = t.due.Add(t.period)
		} else {
			t.stopped = true
			f.remove(t)
		}
		fn := t.fn
		f.mu.Unlock()
		fn()
		f.mu.Lock()
	}
	if target.After(f.now) {
		f.now = target
	}
	f.mu.Unlock()
}

// AdvanceTo moves the clock to t. Times in the past are ignored.
func (f *Fake) AdvanceTo(t time.Time) {
	d := t.Sub(f.Now())
	if d > 0 {
		f.Advance(d)
	}
}

// Pending reports the number of live timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}
