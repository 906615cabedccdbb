package dispatch

import (
	"time"

	"golang.org/x/time/rate"
)

// floodGuard is a token bucket per sender handle.
type floodGuard struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
	sweeps  int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newFloodGuard(perSecond float64, burst int) *floodGuard {
	if perSecond <= 0 {
		return nil
	}
	return &floodGuard{
		limit:   rate.Limit(perSecond),
		burst:   max(1, burst),
		idleTTL: 10 * time.Minute,
		buckets: map[string]*bucket{},
	}
}

// allow reports whether handle may issue another command at now. A nil guard allows everything.
func (g *floodGuard) allow(handle string, now time.Time) bool {
	if g == nil {
		return true
	}
	b := g.buckets[handle]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(g.limit, g.burst)}
		g.buckets[handle] = b
	}
	b.seen = now
	ok := b.lim.AllowN(now, 1)

	g.sweeps++
	if g.sweeps%256 == 0 {
		for h, x := range g.buckets {
			if now.Sub(x.seen) > g.idleTTL {
				delete(g.buckets, h)
			}
		}
	}
	return ok
}
