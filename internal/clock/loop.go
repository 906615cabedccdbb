package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roombot/pkg/logx"
)

// ErrLoopStopped is returned when work is posted to a loop that has exited.
var ErrLoopStopped = errors.New("clock: loop stopped")

// Loop serializes callbacks onto one goroutine.
type Loop struct {
	log  logx.Logger
	work chan func()

	once sync.Once
	done chan struct{}
}

func NewLoop(buffer int, log logx.Logger) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		log:  log.With(logx.String("comp", "loop")),
		work: make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx is cancelled. Panics inside a
// callback are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.work:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop callback panic", logx.Any("panic", r), logx.Stack(logx.StackTrace()))
		}
	}()
	fn()
}

// Post queues fn for execution on the loop. It blocks while the queue is full
// and reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("clock: loop call: %w", ctx.Err())
	case <-l.done:
		return ErrLoopStopped
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} { return l.done }
