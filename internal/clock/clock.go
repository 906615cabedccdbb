// Package clock provides the time source and the single-threaded event loop
// every timed component of the bot runs on.
//
// Timer callbacks never run concurrently with each other: the real clock posts
// them onto a Loop, the fake clock runs them inline from Advance. A timer that
// has been stopped never fires, even if its callback was already queued.
package clock

import "time"

// Timer is a handle to a pending one-shot or repeating callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped a timer
	// that had not yet fired (one-shot) or was still active (repeating).
	Stop() bool
}

// Clock is the scheduling primitive used by the outbox, the countdown and the announcer.
type Clock interface {
	Now() time.Time
	After(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Stop stops t if it is non-nil. It is a convenience for optional handles.
func Stop(t Timer) {
	if t != nil {
		t.Stop()
	}
}
