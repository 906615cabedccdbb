package supervisor

import (
	"math/rand"
	"time"
)

// Backoff yields jittered exponential delays between Min and Max.
// The zero value uses 250ms..30s.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	cur time.Duration
}

// Next returns the delay to wait now and doubles the next one.
func (b *Backoff) Next() time.Duration {
	lo, hi := b.bounds()
	if b.cur < lo {
		b.cur = lo
	}
	wait := b.cur
	if j := int64(wait) / 5; j > 0 {
		wait += time.Duration(rand.Int63n(j + 1))
	}
	b.cur *= 2
	if b.cur > hi {
		b.cur = hi
	}
	return min(wait, hi+hi/5)
}

func (b *Backoff) Reset() { b.cur = 0 }

func (b *Backoff) bounds() (time.Duration, time.Duration) {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = 250 * time.Millisecond
	}
	if hi <= 0 {
		hi = 30 * time.Second
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
