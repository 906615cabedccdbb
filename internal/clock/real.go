package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Real is the wall clock. Callbacks are delivered through the loop.
type Real struct {
	loop *Loop
}

func NewReal(loop *Loop) *Real { return &Real{loop: loop} }

func (c *Real) Now() time.Time { return time.Now() }

type realTimer struct {
	stopped atomic.Bool
	t       *time.Timer

	quit     chan struct{}
	quitOnce sync.Once
}

func (c *Real) After(d time.Duration, fn func()) Timer {
	rt := &realTimer{}
	rt.t = time.AfterFunc(max(d, 0), func() {
		c.loop.Post(func() {
			// Checked on the loop so a Stop issued by an earlier callback wins.
			if rt.stopped.Swap(true) {
				return
			}
			fn()
		})
	})
	return rt
}

func (c *Real) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		d = time.Second
	}
	rt := &realTimer{quit: make(chan struct{})}
	tk := time.NewTicker(d)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-rt.quit:
				return
			case <-tk.C:
				ok := c.loop.Post(func() {
					if rt.stopped.Load() {
						return
					}
					fn()
				})
				if !ok {
					return
				}
			}
		}
	}()
	return rt
}

func (t *realTimer) Stop() bool {
	wasActive := !t.stopped.Swap(true)
	if t.t != nil {
		t.t.Stop()
	}
	if t.quit != nil {
		t.quitOnce.Do(func() { close(t.quit) })
	}
	return wasActive
}
